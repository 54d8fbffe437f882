package rpcserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/logging"
	"github.com/btcmap/btcmap-api/internal/types"
)

type fakeTokenRepo struct{ tokens []*types.AccessToken }

func (f *fakeTokenRepo) SelectAllLive(ctx context.Context) ([]*types.AccessToken, error) {
	return f.tokens, nil
}

type fakeUserRepo struct{ byID map[int64]*types.User }

func (f *fakeUserRepo) SelectByID(ctx context.Context, id int64) (*types.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, apperr.NotFound("user %d", id)
	}
	return u, nil
}

type fakeBanRepo struct{}

func (fakeBanRepo) SelectActiveByIP(ctx context.Context, ip string) ([]*types.Ban, error) {
	return nil, nil
}

type fakeCallRepo struct{ inserted int }

func (f *fakeCallRepo) Insert(ctx context.Context, method, params string, userID *int64, ip string) (int64, error) {
	f.inserted++
	return int64(f.inserted), nil
}

func (f *fakeCallRepo) MarkProcessed(ctx context.Context, id int64, durationMS int64) error {
	return nil
}

func newTestServer() (*Server, *fakeTokenRepo, *fakeUserRepo) {
	tokens := &fakeTokenRepo{tokens: []*types.AccessToken{
		{ID: 1, Secret: "admin-secret", UserID: 1, AllowedMethods: []string{"do_thing"}},
		{ID: 2, Secret: "limited-secret", UserID: 2, AllowedMethods: []string{"other_method"}},
	}}
	users := &fakeUserRepo{byID: map[int64]*types.User{
		1: {ID: 1, Name: "admin"},
		2: {ID: 2, Name: "limited"},
	}}
	s := NewServer(tokens, users, fakeBanRepo{}, &fakeCallRepo{}, logging.Nop(), 10)
	return s, tokens, users
}

func TestDispatchPublicMethodWithoutSecretSucceeds(t *testing.T) {
	s, _, _ := newTestServer()
	s.Register("get_area", func(ctx context.Context, call *Call) (any, error) {
		return "ok", nil
	})

	resp := s.dispatch(context.Background(), &Request{Method: "get_area", ID: json.RawMessage("1")}, "1.2.3.4", "")
	if resp.Error != nil {
		t.Fatalf("got error %+v", resp.Error)
	}
}

func TestDispatchPrivateMethodWithoutSecretIsUnauthorized(t *testing.T) {
	s, _, _ := newTestServer()
	s.Register("do_thing", func(ctx context.Context, call *Call) (any, error) {
		return "ok", nil
	})

	resp := s.dispatch(context.Background(), &Request{Method: "do_thing"}, "1.2.3.4", "")
	if resp.Error == nil || resp.Error.Code != CodeUnauthorized {
		t.Fatalf("got %+v, want CodeUnauthorized", resp.Error)
	}
}

func TestDispatchMethodNotInAllowedListIsForbidden(t *testing.T) {
	s, _, _ := newTestServer()
	s.Register("do_thing", func(ctx context.Context, call *Call) (any, error) {
		return "ok", nil
	})

	resp := s.dispatch(context.Background(), &Request{Method: "do_thing"}, "1.2.3.4", "limited-secret")
	if resp.Error == nil || resp.Error.Code != CodeForbidden {
		t.Fatalf("got %+v, want CodeForbidden", resp.Error)
	}
}

func TestDispatchAuthorizedMethodSucceeds(t *testing.T) {
	s, _, _ := newTestServer()
	var gotUserID int64
	s.Register("do_thing", func(ctx context.Context, call *Call) (any, error) {
		gotUserID = call.User.ID
		return "ok", nil
	})

	resp := s.dispatch(context.Background(), &Request{Method: "do_thing"}, "1.2.3.4", "admin-secret")
	if resp.Error != nil {
		t.Fatalf("got error %+v", resp.Error)
	}
	if gotUserID != 1 {
		t.Fatalf("got user %d, want 1", gotUserID)
	}
}

func TestDispatchUnknownMethodIsMethodNotFound(t *testing.T) {
	s, _, _ := newTestServer()
	resp := s.dispatch(context.Background(), &Request{Method: "nope"}, "1.2.3.4", "admin-secret")
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("got %+v, want CodeMethodNotFound", resp.Error)
	}
}

func TestDispatchHandlerErrorMapsToKind(t *testing.T) {
	s, _, _ := newTestServer()
	s.Register("do_thing", func(ctx context.Context, call *Call) (any, error) {
		return nil, apperr.NotFound("missing thing")
	})

	resp := s.dispatch(context.Background(), &Request{Method: "do_thing"}, "1.2.3.4", "admin-secret")
	if resp.Error == nil || resp.Error.Code != CodeNotFound {
		t.Fatalf("got %+v, want CodeNotFound", resp.Error)
	}
}
