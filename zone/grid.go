package zone

// Pitch is the distance between neighboring tile centers
type Pitch struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// PitchFromFieldOfView computes the tile pitch from the camera's field of
// view (micrometers) and the fraction of each tile that overlaps its neighbor
func PitchFromFieldOfView(fovX, fovY int, overlapX, overlapY float64) Pitch {
	return Pitch{
		X: int(float64(fovX) * (1 - overlapX)),
		Y: int(float64(fovY) * (1 - overlapY)),
	}
}

// Tile is one camera position within a zone
type Tile struct {
	// XI, YI are the column and row of the tile
	XI, YI int

	// DX, DY is the offset of the tile from the zone's front-left corner
	DX, DY int

	// Target is the absolute stage position of the tile, at FL height
	Target Point
}

// Steps returns the number of tile positions along X and Y, inclusive of
// both corners
func (z Zone) Steps(p Pitch) (int, int, error) {
	if p.X <= 0 || p.Y <= 0 {
		return 0, 0, ErrBadPitch
	}
	if err := z.Validate(); err != nil {
		return 0, 0, err
	}
	sx := 1 + (z.BR.X-z.FL.X)/p.X
	sy := 1 + (z.BR.Y-z.FL.Y)/p.Y
	return sx, sy, nil
}

// Tiles lists the tiles of the zone in row-major order (Y outer, X inner),
// starting at FL
func (z Zone) Tiles(p Pitch) ([]Tile, error) {
	sx, sy, err := z.Steps(p)
	if err != nil {
		return nil, err
	}
	out := make([]Tile, 0, sx*sy)
	for yi := 0; yi < sy; yi++ {
		for xi := 0; xi < sx; xi++ {
			dx, dy := p.X*xi, p.Y*yi
			out = append(out, Tile{
				XI: xi, YI: yi,
				DX: dx, DY: dy,
				Target: Point{X: z.FL.X + dx, Y: z.FL.Y + dy, Z: z.FL.Z},
			})
		}
	}
	return out, nil
}
