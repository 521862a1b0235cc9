package domain

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func init() {
	PasswordCost = bcrypt.MinCost
}

type fakeStore struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	seq      int
	actors   map[string]Actor
	order    []string
	requests map[string]ChangeRequest
	reqOrder []string
	// failMark makes MarkApproved fail once with the given error.
	failMark error
}

func newFakeStore() *fakeStore {
	return &fakeStore{actors: map[string]Actor{}, requests: map[string]ChangeRequest{}}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return prefix + strconv.Itoa(f.seq)
}

func (f *fakeStore) CreateActor(ctx context.Context, attrs NewActor) (Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email := NormalizeEmail(attrs.Email)
	for _, a := range f.actors {
		if a.Email == email {
			return Actor{}, ErrDuplicateEmail
		}
	}
	hash, err := HashPassword(attrs.Password)
	if err != nil {
		return Actor{}, err
	}
	now := time.Now().UTC()
	a := Actor{
		ID:           f.nextID("actor-"),
		FirstName:    attrs.FirstName,
		LastName:     attrs.LastName,
		Email:        email,
		PasswordHash: hash,
		IsAdmin:      attrs.IsAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.actors[a.ID] = a
	f.order = append(f.order, a.ID)
	return a, nil
}

func (f *fakeStore) FindActorByID(ctx context.Context, id string) (Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.actors[id]
	if !ok {
		return Actor{}, ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) FindActorByEmail(ctx context.Context, email string) (*Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email = NormalizeEmail(email)
	for _, a := range f.actors {
		if a.Email == email {
			cpy := a
			return &cpy, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpdateActor(ctx context.Context, id string, upd ActorUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.actors[id]
	if !ok {
		return ErrNotFound
	}
	email := NormalizeEmail(upd.Email)
	for _, other := range f.actors {
		if other.ID != id && other.Email == email {
			return ErrDuplicateEmail
		}
	}
	a.FirstName, a.LastName, a.Email = upd.FirstName, upd.LastName, email
	f.actors[id] = a
	return nil
}

func (f *fakeStore) DeleteActor(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.actors[id]; !ok {
		return ErrNotFound
	}
	delete(f.actors, id)
	return nil
}

func (f *fakeStore) ListAdmins(ctx context.Context, excluding string) ([]Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Actor
	for _, id := range f.order {
		a, ok := f.actors[id]
		if ok && a.IsAdmin && a.ID != excluding {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertRequest(ctx context.Context, req ChangeRequest) (ChangeRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req.ID = f.nextID("req-")
	req.CreatedAt = time.Now().UTC()
	req.UpdatedAt = req.CreatedAt
	f.requests[req.ID] = req
	f.reqOrder = append(f.reqOrder, req.ID)
	return req, nil
}

func (f *fakeStore) ListPending(ctx context.Context, excluding string) ([]ChangeRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []ChangeRequest{}
	for _, id := range f.reqOrder {
		r, ok := f.requests[id]
		if ok && r.Pending() && r.RequestedBy != excluding {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) GetRequest(ctx context.Context, id string) (ChangeRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok {
		return ChangeRequest{}, ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) MarkApproved(ctx context.Context, id, approvedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMark != nil {
		err := f.failMark
		f.failMark = nil
		return err
	}
	r, ok := f.requests[id]
	if !ok {
		return ErrNotFound
	}
	if !r.Pending() {
		return ErrAlreadyApproved
	}
	r.Status = StatusApproved
	r.ApprovedBy = &approvedBy
	f.requests[id] = r
	return nil
}

func (f *fakeStore) DeleteRequest(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.requests[id]; !ok {
		return ErrNotFound
	}
	delete(f.requests, id)
	return nil
}

func (f *fakeStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	f.txMu.Lock()
	defer f.txMu.Unlock()

	f.mu.Lock()
	actors := make(map[string]Actor, len(f.actors))
	for k, v := range f.actors {
		actors[k] = v
	}
	requests := make(map[string]ChangeRequest, len(f.requests))
	for k, v := range f.requests {
		requests[k] = v
	}
	order := append([]string(nil), f.order...)
	f.mu.Unlock()

	if err := fn(f); err != nil {
		f.mu.Lock()
		f.actors, f.requests, f.order = actors, requests, order
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *fakeStore) LoadParticipants(ctx context.Context, reqs []ChangeRequest) ([]RequestDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RequestDetails, len(reqs))
	for i, r := range reqs {
		out[i] = RequestDetails{ChangeRequest: r}
		if a, ok := f.actors[r.RequestedBy]; ok {
			out[i].Requester = &a
		}
		if r.ApprovedBy != nil {
			if a, ok := f.actors[*r.ApprovedBy]; ok {
				out[i].Approver = &a
			}
		}
	}
	return out, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (n *recordingNotifier) RequestCreated(ctx context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}
