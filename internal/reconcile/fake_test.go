package reconcile

import (
	"context"
	"sync"

	"github.com/onnwee/donation-reconciler/internal/paystack"
)

// fakeAPI is an in-memory paystack.API recording every call.
type fakeAPI struct {
	mu sync.Mutex

	validKey bool
	verify   func(reference string) (*paystack.Transaction, error)
	get      func(path string) (*paystack.Response, error)
	post     func(path string, body any) (*paystack.Response, error)

	verifyCalls int
	gets        []string
	posts       []string
}

func (f *fakeAPI) Verify(_ context.Context, reference string) (*paystack.Transaction, error) {
	f.mu.Lock()
	f.verifyCalls++
	f.mu.Unlock()
	return f.verify(reference)
}

func (f *fakeAPI) Get(_ context.Context, path string) (*paystack.Response, error) {
	f.mu.Lock()
	f.gets = append(f.gets, path)
	f.mu.Unlock()
	return f.get(path)
}

func (f *fakeAPI) Post(_ context.Context, path string, body any) (*paystack.Response, error) {
	f.mu.Lock()
	f.posts = append(f.posts, path)
	f.mu.Unlock()
	return f.post(path, body)
}

func (f *fakeAPI) HasValidKey() bool { return f.validKey }

func (f *fakeAPI) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

// fakeProvider serves the same fake for both modes.
type fakeProvider struct{ api *fakeAPI }

func (p fakeProvider) API(bool) paystack.API { return p.api }
