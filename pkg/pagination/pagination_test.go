package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, target string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContextDefaults(t *testing.T) {
	p := paramsFor(t, "/")
	if p.Limit != DefaultLimit || p.Offset != 0 {
		t.Errorf("defaults = %+v", p)
	}
}

func TestFromContextPlainParams(t *testing.T) {
	p := paramsFor(t, "/?limit=50&offset=10")
	if p.Limit != 50 || p.Offset != 10 {
		t.Errorf("params = %+v", p)
	}
}

func TestFromContextFHIRParams(t *testing.T) {
	p := paramsFor(t, "/?_count=25&_offset=5")
	if p.Limit != 25 || p.Offset != 5 {
		t.Errorf("params = %+v", p)
	}
}

func TestFromContextClampsLimit(t *testing.T) {
	p := paramsFor(t, "/?limit=5000")
	if p.Limit != MaxLimit {
		t.Errorf("limit = %d, want %d", p.Limit, MaxLimit)
	}
}

func TestFromContextIgnoresGarbage(t *testing.T) {
	p := paramsFor(t, "/?limit=abc&offset=-3")
	if p.Limit != DefaultLimit || p.Offset != 0 {
		t.Errorf("params = %+v", p)
	}
}

func TestNewResponseHasMore(t *testing.T) {
	if r := NewResponse(nil, 100, 20, 0); !r.HasMore {
		t.Error("first page of 100 must have more")
	}
	if r := NewResponse(nil, 100, 20, 80); r.HasMore {
		t.Error("last page must not have more")
	}
}
