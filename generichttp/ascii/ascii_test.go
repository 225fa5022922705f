package ascii_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.com/microfossil/particle-scanner/generichttp"
	"github.com/microfossil/particle-scanner/generichttp/ascii"
)

type echo struct{ sent []string }

func (e *echo) Raw(s string) ([]string, error) {
	if s == "fail" {
		return nil, errors.New("no ok from firmware")
	}
	e.sent = append(e.sent, s)
	return []string{"X:1.00 Y:2.00 Z:3.00", "ok"}, nil
}

func TestRawRoute(t *testing.T) {
	e := &echo{}
	rt := generichttp.RouteTable{}
	ascii.InjectRawComm(rt, e)
	r := chi.NewRouter()
	rt.Bind(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/raw", strings.NewReader(`{"str": "M114"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("raw returned %d %s", w.Code, w.Body)
	}
	want := `{"str":"X:1.00 Y:2.00 Z:3.00\nok"}`
	if got := strings.TrimSpace(w.Body.String()); got != want {
		t.Errorf("got %s want %s", got, want)
	}
	if len(e.sent) != 1 || e.sent[0] != "M114" {
		t.Errorf("sent %v", e.sent)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/raw", strings.NewReader(`{"str": "fail"}`)))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("failed command returned %d", w.Code)
	}
}
