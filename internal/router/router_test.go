package router

import (
	"net/http"
	"testing"
)

func noopHandler(r *http.Request, params map[string]string) (*HandlerResult, error) {
	return &HandlerResult{StatusCode: 200}, nil
}

func TestMatchExtractsParams(t *testing.T) {
	table := Compile([]RouteSpec{
		New("/users/:id", noopHandler),
	})
	r, _ := http.NewRequest("GET", "/users/42", nil)
	route, params, ok := table.Match(r)
	if !ok {
		t.Fatal("expected match")
	}
	if route.Pattern != "/users/:id" {
		t.Fatalf("wrong route: %s", route.Pattern)
	}
	if params["id"] != "42" {
		t.Fatalf("expected id=42, got %v", params)
	}
}

func TestMatchOptionalSegment(t *testing.T) {
	table := Compile([]RouteSpec{
		New("/posts/:id?", noopHandler),
	})

	r1, _ := http.NewRequest("GET", "/posts", nil)
	if _, params, ok := table.Match(r1); !ok || params["id"] != "" {
		t.Fatalf("expected match with empty id, got ok=%v params=%v", ok, params)
	}

	r2, _ := http.NewRequest("GET", "/posts/7", nil)
	if _, params, ok := table.Match(r2); !ok || params["id"] != "7" {
		t.Fatalf("expected match with id=7, got ok=%v params=%v", ok, params)
	}
}

func TestMatchReverseInsertionOrderWins(t *testing.T) {
	var which string
	first := New("/a/:x", func(r *http.Request, p map[string]string) (*HandlerResult, error) {
		which = "first"
		return nil, nil
	})
	second := New("/a/:x", func(r *http.Request, p map[string]string) (*HandlerResult, error) {
		which = "second"
		return nil, nil
	})
	table := Compile([]RouteSpec{first, second})

	r, _ := http.NewRequest("GET", "/a/1", nil)
	route, _, ok := table.Match(r)
	if !ok {
		t.Fatal("expected match")
	}
	route.Handler(r, map[string]string{})
	if which != "second" {
		t.Fatalf("expected later-declared route to win, got %s", which)
	}
}

func TestMatchNoMatch(t *testing.T) {
	table := Compile([]RouteSpec{New("/only", noopHandler)})
	r, _ := http.NewRequest("GET", "/nope", nil)
	if _, _, ok := table.Match(r); ok {
		t.Fatal("expected no match")
	}
}

func TestConstructURL(t *testing.T) {
	got, err := ConstructURL("/users/:id/posts/:postId?", map[string]string{"id": "7", "postId": "3"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "/users/7/posts/3" {
		t.Fatalf("got %s", got)
	}

	got, err = ConstructURL("/users/:id/posts/:postId?", map[string]string{"id": "7"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "/users/7/posts" {
		t.Fatalf("got %s", got)
	}
}

func TestConstructURLMissingRequired(t *testing.T) {
	_, err := ConstructURL("/users/:id", map[string]string{})
	if err == nil {
		t.Fatal("expected ParamMissingError")
	}
	if _, ok := err.(*ParamMissingError); !ok {
		t.Fatalf("expected *ParamMissingError, got %T", err)
	}
}
