package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextFor(query string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(contextFor(""))
	if p.Limit != DefaultLimit {
		t.Errorf("expected limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := FromContext(contextFor("limit=10&offset=30"))
	if p.Limit != 10 || p.Offset != 30 {
		t.Errorf("expected 10/30, got %d/%d", p.Limit, p.Offset)
	}
}

func TestFromContext_Page(t *testing.T) {
	p := FromContext(contextFor("limit=10&page=3"))
	if p.Offset != 20 {
		t.Errorf("expected offset 20, got %d", p.Offset)
	}
}

func TestFromContext_OffsetWinsOverPage(t *testing.T) {
	p := FromContext(contextFor("limit=10&page=3&offset=5"))
	if p.Offset != 5 {
		t.Errorf("expected offset 5, got %d", p.Offset)
	}
}

func TestFromContext_MaxLimit(t *testing.T) {
	p := FromContext(contextFor("limit=5000"))
	if p.Limit != MaxLimit {
		t.Errorf("expected limit capped to %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_NegativeOffset(t *testing.T) {
	p := FromContext(contextFor("offset=-4"))
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]int{1, 2}, 10, 2, 0)
	if !r.HasMore || r.NextOffset == nil || *r.NextOffset != 2 {
		t.Errorf("expected next offset 2, got %+v", r)
	}
	r = NewResponse([]int{9, 10}, 10, 2, 8)
	if r.HasMore || r.NextOffset != nil {
		t.Error("expected no more on last page")
	}
}

func TestSlice(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	r := Slice(items, Params{Limit: 2, Offset: 2})
	page := r.Data.([]int)
	if len(page) != 2 || page[0] != 3 || page[1] != 4 {
		t.Errorf("unexpected page %v", page)
	}
	if r.Total != 5 || !r.HasMore {
		t.Errorf("unexpected total/has_more: %d/%v", r.Total, r.HasMore)
	}

	r = Slice(items, Params{Limit: 2, Offset: 10})
	if got := r.Data.([]int); len(got) != 0 {
		t.Errorf("expected empty page past the end, got %v", got)
	}
}

func TestSlice_Nil(t *testing.T) {
	r := Slice[string](nil, Params{Limit: 5})
	page, ok := r.Data.([]string)
	if !ok || page == nil || len(page) != 0 {
		t.Errorf("expected empty non-nil page, got %#v", r.Data)
	}
}
