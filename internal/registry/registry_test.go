package registry_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/lukesavage/convohub/internal/domain/user"
	"github.com/lukesavage/convohub/internal/mirrorq"
	"github.com/lukesavage/convohub/internal/registry"
	"github.com/lukesavage/convohub/internal/security"
	mongostore "github.com/lukesavage/convohub/internal/store/mongo"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Fake store implementations of the registry interfaces

type fakePrimary struct {
	getByEmailFn func(ctx context.Context, email string) (user.User, error)
	createFn     func(ctx context.Context, name, email, passwordHash string) (user.User, error)
}

func (f *fakePrimary) GetByEmail(ctx context.Context, email string) (user.User, error) {
	if f.getByEmailFn != nil {
		return f.getByEmailFn(ctx, email)
	}
	return user.User{}, mongostore.ErrUserNotFound
}

func (f *fakePrimary) Create(ctx context.Context, name, email, passwordHash string) (user.User, error) {
	if f.createFn != nil {
		return f.createFn(ctx, name, email, passwordHash)
	}
	return user.User{ID: "u1", Name: name, Email: email, PasswordHash: passwordHash}, nil
}

type fakeMirror struct {
	existsFn func(ctx context.Context, email string) (bool, error)
	insertFn func(ctx context.Context, name, email, passwordHash string) error
	listFn   func(ctx context.Context) ([]user.MirrorRecord, error)
}

func (f *fakeMirror) EmailExists(ctx context.Context, email string) (bool, error) {
	if f.existsFn != nil {
		return f.existsFn(ctx, email)
	}
	return false, nil
}

func (f *fakeMirror) Insert(ctx context.Context, name, email, passwordHash string) error {
	if f.insertFn != nil {
		return f.insertFn(ctx, name, email, passwordHash)
	}
	return nil
}

func (f *fakeMirror) List(ctx context.Context) ([]user.MirrorRecord, error) {
	if f.listFn != nil {
		return f.listFn(ctx)
	}
	return nil, nil
}

type fakeIssuer struct {
	generateFn func(userID, email string) (string, error)
}

func (f *fakeIssuer) GenerateToken(userID, email string) (string, error) {
	if f.generateFn != nil {
		return f.generateFn(userID, email)
	}
	return "token-" + userID, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []mirrorq.Payload
	err      error
}

func (f *fakeQueue) Enqueue(ctx context.Context, p mirrorq.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}

	f.enqueued = append(f.enqueued, p)
	return nil
}

func TestRegister_Success(t *testing.T) {
	var mirrored struct {
		name, email, hash string
	}

	primary := &fakePrimary{}
	mirror := &fakeMirror{
		insertFn: func(ctx context.Context, name, email, passwordHash string) error {
			mirrored.name = name
			mirrored.email = email
			mirrored.hash = passwordHash
			return nil
		},
	}

	c := registry.NewCoordinator(primary, mirror, &fakeIssuer{}, &fakeQueue{}, discardLogger(), nil)

	token, err := c.Register(context.Background(), "Ann", "ann@x.com", "password1")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}

	if token != "token-u1" {
		t.Fatalf("unexpected token: %q", token)
	}

	if mirrored.email != "ann@x.com" || mirrored.name != "Ann" {
		t.Fatalf("mirror got wrong record: %+v", mirrored)
	}

	if mirrored.hash == "" || mirrored.hash == "password1" {
		t.Fatalf("mirror must receive the hash, never the plaintext: %q", mirrored.hash)
	}

	if err := security.CheckPassword(mirrored.hash, "password1"); err != nil {
		t.Fatalf("mirror hash does not verify: %v", err)
	}
}

func TestRegister_DuplicateChecks(t *testing.T) {
	tests := []struct {
		name    string
		primary *fakePrimary
		mirror  *fakeMirror
	}{
		{
			name: "primary already holds email",
			primary: &fakePrimary{
				getByEmailFn: func(ctx context.Context, email string) (user.User, error) {
					return user.User{ID: "u1", Email: email}, nil
				},
			},
			mirror: &fakeMirror{},
		},
		{
			name:    "mirror already holds email",
			primary: &fakePrimary{},
			mirror: &fakeMirror{
				existsFn: func(ctx context.Context, email string) (bool, error) {
					return true, nil
				},
			},
		},
		{
			name: "primary duplicate key on write wins the race",
			primary: &fakePrimary{
				createFn: func(ctx context.Context, name, email, passwordHash string) (user.User, error) {
					return user.User{}, mongostore.ErrEmailTaken
				},
			},
			mirror: &fakeMirror{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := registry.NewCoordinator(tc.primary, tc.mirror, &fakeIssuer{}, &fakeQueue{}, discardLogger(), nil)

			_, err := c.Register(context.Background(), "Ann", "ann@x.com", "password1")

			if !errors.Is(err, registry.ErrDuplicateUser) {
				t.Fatalf("want ErrDuplicateUser, got %v", err)
			}
		})
	}
}

func TestRegister_PrimaryWriteFailureAborts(t *testing.T) {
	mirrorCalled := false

	primary := &fakePrimary{
		createFn: func(ctx context.Context, name, email, passwordHash string) (user.User, error) {
			return user.User{}, errors.New("primary down")
		},
	}
	mirror := &fakeMirror{
		insertFn: func(ctx context.Context, name, email, passwordHash string) error {
			mirrorCalled = true
			return nil
		},
	}

	c := registry.NewCoordinator(primary, mirror, &fakeIssuer{}, &fakeQueue{}, discardLogger(), nil)

	_, err := c.Register(context.Background(), "Ann", "ann@x.com", "password1")

	if err == nil || errors.Is(err, registry.ErrDuplicateUser) {
		t.Fatalf("want store error, got %v", err)
	}

	if mirrorCalled {
		t.Fatal("mirror must not be written when the authoritative write fails")
	}
}

func TestRegister_MirrorFailureStillSucceeds(t *testing.T) {
	primary := &fakePrimary{}
	mirror := &fakeMirror{
		insertFn: func(ctx context.Context, name, email, passwordHash string) error {
			return errors.New("mirror down")
		},
	}
	queue := &fakeQueue{}

	c := registry.NewCoordinator(primary, mirror, &fakeIssuer{}, queue, discardLogger(), nil)

	token, err := c.Register(context.Background(), "Ann", "ann@x.com", "password1")
	if err != nil {
		t.Fatalf("mirror failure must not fail registration: %v", err)
	}

	if token == "" {
		t.Fatal("expected a token despite the mirror failure")
	}

	if len(queue.enqueued) != 1 {
		t.Fatalf("expected one queued retry, got %d", len(queue.enqueued))
	}

	p := queue.enqueued[0]

	if p.Email != "ann@x.com" || p.PasswordHash == "" || p.PasswordHash == "password1" {
		t.Fatalf("queued payload wrong: %+v", p)
	}
}

func TestRegister_ConcurrentSameEmail(t *testing.T) {
	// both requests race past the read-time checks; the primary's unique
	// key constraint decides the winner
	var mu sync.Mutex
	created := map[string]bool{}

	primary := &fakePrimary{
		createFn: func(ctx context.Context, name, email, passwordHash string) (user.User, error) {
			mu.Lock()
			defer mu.Unlock()

			if created[email] {
				return user.User{}, mongostore.ErrEmailTaken
			}

			created[email] = true
			return user.User{ID: "u1", Email: email, PasswordHash: passwordHash}, nil
		},
	}

	c := registry.NewCoordinator(primary, &fakeMirror{}, &fakeIssuer{}, &fakeQueue{}, discardLogger(), nil)

	results := make(chan error, 2)

	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.Register(context.Background(), "Ann", "ann@x.com", "password1")
			results <- err
		}()
	}

	var okCount, dupCount int

	for i := 0; i < 2; i++ {
		err := <-results

		switch {
		case err == nil:
			okCount++
		case errors.Is(err, registry.ErrDuplicateUser):
			dupCount++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if okCount != 1 || dupCount != 1 {
		t.Fatalf("want exactly one success and one duplicate, got ok=%d dup=%d", okCount, dupCount)
	}
}

func TestLookup_ServedFromPrimary(t *testing.T) {
	mirrorRead := false

	primary := &fakePrimary{
		getByEmailFn: func(ctx context.Context, email string) (user.User, error) {
			if email == "ann@x.com" {
				return user.User{ID: "u1", Email: email}, nil
			}
			return user.User{}, mongostore.ErrUserNotFound
		},
	}
	mirror := &fakeMirror{
		existsFn: func(ctx context.Context, email string) (bool, error) {
			mirrorRead = true
			return false, nil
		},
	}

	c := registry.NewCoordinator(primary, mirror, &fakeIssuer{}, &fakeQueue{}, discardLogger(), nil)

	u, err := c.Lookup(context.Background(), "ann@x.com")
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if u.ID != "u1" {
		t.Fatalf("unexpected user: %+v", u)
	}

	if _, err := c.Lookup(context.Background(), "ghost@x.com"); !errors.Is(err, mongostore.ErrUserNotFound) {
		t.Fatalf("want ErrUserNotFound, got %v", err)
	}

	if mirrorRead {
		t.Fatal("lookup must never consult the mirror")
	}
}

func TestLogin_RoundTrip(t *testing.T) {
	hash, err := security.HashPassword("password1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	primary := &fakePrimary{
		getByEmailFn: func(ctx context.Context, email string) (user.User, error) {
			if email == "ann@x.com" {
				return user.User{ID: "u1", Email: email, PasswordHash: hash}, nil
			}
			return user.User{}, mongostore.ErrUserNotFound
		},
	}

	c := registry.NewCoordinator(primary, &fakeMirror{}, &fakeIssuer{}, &fakeQueue{}, discardLogger(), nil)

	token, err := c.Login(context.Background(), "ann@x.com", "password1")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if token == "" {
		t.Fatal("expected token")
	}
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	hash, err := security.HashPassword("password1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	primary := &fakePrimary{
		getByEmailFn: func(ctx context.Context, email string) (user.User, error) {
			if email == "ann@x.com" {
				return user.User{ID: "u1", Email: email, PasswordHash: hash}, nil
			}
			return user.User{}, mongostore.ErrUserNotFound
		},
	}

	c := registry.NewCoordinator(primary, &fakeMirror{}, &fakeIssuer{}, &fakeQueue{}, discardLogger(), nil)

	_, wrongPass := c.Login(context.Background(), "ann@x.com", "nope-nope")
	_, noUser := c.Login(context.Background(), "ghost@x.com", "password1")

	if !errors.Is(wrongPass, registry.ErrInvalidCredentials) {
		t.Fatalf("wrong password: want ErrInvalidCredentials, got %v", wrongPass)
	}

	if !errors.Is(noUser, registry.ErrInvalidCredentials) {
		t.Fatalf("unknown email: want ErrInvalidCredentials, got %v", noUser)
	}

	// identical error value, nothing for an enumeration attack to read
	if wrongPass.Error() != noUser.Error() {
		t.Fatalf("errors must be indistinguishable: %q vs %q", wrongPass, noUser)
	}
}
