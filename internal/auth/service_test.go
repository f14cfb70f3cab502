package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/codedojo/internal/model"
	"github.com/hitoshi/codedojo/internal/repository"
	"github.com/hitoshi/codedojo/internal/security"
	"golang.org/x/crypto/bcrypt"
)

// --- モック定義 ---

// fakeUserRepo はメールアドレスの一意性を保証するインメモリのUserRepository。
type fakeUserRepo struct {
	mu      sync.Mutex
	byID    map[string]*model.User
	findErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: make(map[string]*model.User)}
}

func (r *fakeUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	if u, ok := r.byID[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, nil
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, u := range r.byID {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	c := *user
	r.byID[user.ID] = &c
	return nil
}

func (r *fakeUserRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	return nil
}

type mockSessionRepo struct {
	createFn        func(ctx context.Context, session *model.Session) error
	findByIDFn      func(ctx context.Context, id string) (*model.Session, error)
	touchFn         func(ctx context.Context, id string, lastSeenAt time.Time) error
	deleteByIDFn    func(ctx context.Context, id string) error
	deleteExpiredFn func(ctx context.Context, before time.Time) (int64, error)
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) Touch(ctx context.Context, id string, lastSeenAt time.Time) error {
	if m.touchFn != nil {
		return m.touchFn(ctx, id, lastSeenAt)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(_ context.Context, _ string) error {
	return nil
}

func (m *mockSessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx, before)
	}
	return 0, nil
}

type recordingMetrics struct {
	mu      sync.Mutex
	signups []string
	logins  []string
	logouts int
	checks  []string
}

func (m *recordingMetrics) RecordSignup(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signups = append(m.signups, result)
}

func (m *recordingMetrics) RecordLogin(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins = append(m.logins, result)
}

func (m *recordingMetrics) RecordLogout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logouts++
}

func (m *recordingMetrics) RecordSessionCheck(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks = append(m.checks, result)
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*fakeUserRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ MetricsRecorder = (*recordingMetrics)(nil)

// --- ヘルパー ---

type testEnv struct {
	svc      *Service
	users    *fakeUserRepo
	sessions repository.SessionRepository
	metrics  *recordingMetrics
}

func newTestEnv(t *testing.T, sessions repository.SessionRepository, cfg ServiceConfig) *testEnv {
	t.Helper()
	if sessions == nil {
		sessions = repository.NewMemorySessionRepo()
	}
	if cfg.SessionMaxAge == 0 {
		cfg.SessionMaxAge = 86400
	}
	if cfg.PasswordMinLength == 0 {
		cfg.PasswordMinLength = 6
	}

	users := newFakeUserRepo()
	metrics := &recordingMetrics{}
	svc, err := NewService(users, sessions, NewBcryptHasher(bcrypt.MinCost), security.NewNameSanitizer(), metrics, cfg)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return &testEnv{svc: svc, users: users, sessions: sessions, metrics: metrics}
}

func assertAPIErrorCode(t *testing.T, err error, code string) *model.APIError {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError with code %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Errorf("error code = %q, want %q", apiErr.Code, code)
	}
	return apiErr
}

// --- Signup ---

func TestSignup_Success_CreatesUserAndSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, ServiceConfig{})

	user, session, err := env.svc.Signup(ctx, "Jane Doe", "jane@x.com", "secret123", "")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	if user.FullName != "Jane Doe" {
		t.Errorf("FullName = %q, want %q", user.FullName, "Jane Doe")
	}
	if user.Email != "jane@x.com" {
		t.Errorf("Email = %q, want %q", user.Email, "jane@x.com")
	}
	if user.PasswordHash == "" || user.PasswordHash == "secret123" {
		t.Errorf("password should be stored as a hash, got %q", user.PasswordHash)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secret123")); err != nil {
		t.Errorf("stored hash should match password: %v", err)
	}

	if session == nil || session.ID == "" {
		t.Fatal("expected a session to be issued")
	}
	if len(session.ID) != 64 {
		t.Errorf("session ID length = %d, want 64 hex chars", len(session.ID))
	}
	if session.UserID != user.ID {
		t.Errorf("session.UserID = %q, want %q", session.UserID, user.ID)
	}

	stored, _ := env.sessions.FindByID(ctx, session.ID)
	if stored == nil {
		t.Error("session should be persisted")
	}
	if got := env.metrics.signups; len(got) != 1 || got[0] != ResultSuccess {
		t.Errorf("signup metrics = %v, want [success]", got)
	}
}

func TestSignup_NormalizesEmail(t *testing.T) {
	env := newTestEnv(t, nil, ServiceConfig{})

	user, _, err := env.svc.Signup(context.Background(), "Jane", "  Jane@X.com ", "secret123", "")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	if user.Email != "jane@x.com" {
		t.Errorf("Email = %q, want %q", user.Email, "jane@x.com")
	}
}

func TestSignup_DuplicateEmail_ReturnsEmailTaken(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, ServiceConfig{})

	if _, _, err := env.svc.Signup(ctx, "Jane Doe", "jane@x.com", "secret123", ""); err != nil {
		t.Fatalf("first Signup() error = %v", err)
	}

	_, _, err := env.svc.Signup(ctx, "Another Jane", "JANE@x.com", "different1", "")
	apiErr := assertAPIErrorCode(t, err, model.ErrCodeEmailTaken)
	if apiErr.Category != model.CategoryValidation {
		t.Errorf("category = %q, want %q", apiErr.Category, model.CategoryValidation)
	}
}

func TestSignup_DuplicateDetectedOnInsert_ReturnsEmailTaken(t *testing.T) {
	env := newTestEnv(t, nil, ServiceConfig{})

	// FindByEmailでは見つからないが、INSERT時に一意制約違反となる競合状態
	env.svc.userRepo = &racingUserRepo{fakeUserRepo: env.users}

	_, _, err := env.svc.Signup(context.Background(), "Jane", "jane@x.com", "secret123", "")
	assertAPIErrorCode(t, err, model.ErrCodeEmailTaken)
}

type racingUserRepo struct {
	*fakeUserRepo
}

func (r *racingUserRepo) Create(_ context.Context, _ *model.User) error {
	return repository.ErrDuplicateEmail
}

func TestSignup_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		fullName string
		email    string
		password string
		code     string
	}{
		{"氏名が空", "", "jane@x.com", "secret123", model.ErrCodeInvalidFullName},
		{"氏名がタグのみ", "<script>x</script>", "jane@x.com", "secret123", model.ErrCodeInvalidFullName},
		{"メールアドレスが空", "Jane", "", "secret123", model.ErrCodeInvalidEmail},
		{"メールアドレスに@がない", "Jane", "jane.x.com", "secret123", model.ErrCodeInvalidEmail},
		{"ドメインにドットがない", "Jane", "jane@x", "secret123", model.ErrCodeInvalidEmail},
		{"パスワードが空", "Jane", "jane@x.com", "", model.ErrCodeWeakPassword},
		{"パスワードが短い", "Jane", "jane@x.com", "abc", model.ErrCodeWeakPassword},
		{"パスワードが長すぎる", "Jane", "jane@x.com", strings.Repeat("a", 73), model.ErrCodeWeakPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil, ServiceConfig{})

			user, session, err := env.svc.Signup(context.Background(), tt.fullName, tt.email, tt.password, "")
			apiErr := assertAPIErrorCode(t, err, tt.code)
			wantCategory := model.CategoryValidation
			if tt.code == model.ErrCodeWeakPassword {
				wantCategory = model.CategoryWeakCredential
			}
			if apiErr.Category != wantCategory {
				t.Errorf("category = %q, want %q", apiErr.Category, wantCategory)
			}
			if user != nil || session != nil {
				t.Error("no user or session should be returned on failure")
			}
			if len(env.users.byID) != 0 {
				t.Error("no user should be persisted on failure")
			}
		})
	}
}

func TestSignup_SanitizesFullName(t *testing.T) {
	env := newTestEnv(t, nil, ServiceConfig{})

	user, _, err := env.svc.Signup(context.Background(), "  <b>Jane</b>   Doe ", "jane@x.com", "secret123", "")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	if user.FullName != "Jane Doe" {
		t.Errorf("FullName = %q, want %q", user.FullName, "Jane Doe")
	}
}

func TestSignup_RepositoryError_ReturnsWrappedError(t *testing.T) {
	env := newTestEnv(t, nil, ServiceConfig{})
	env.users.findErr = errors.New("db down")

	_, _, err := env.svc.Signup(context.Background(), "Jane", "jane@x.com", "secret123", "")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("infrastructure failures should not be APIError, got %v", apiErr)
	}
}

func TestSignup_SessionCreateFails_ReturnsError(t *testing.T) {
	sessions := &mockSessionRepo{
		createFn: func(ctx context.Context, session *model.Session) error {
			return errors.New("store unavailable")
		},
	}
	env := newTestEnv(t, sessions, ServiceConfig{})

	_, _, err := env.svc.Signup(context.Background(), "Jane", "jane@x.com", "secret123", "")
	if err == nil {
		t.Fatal("expected error when session cannot be created")
	}
}

// --- Login ---

func TestLogin_Success_IssuesNewSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, ServiceConfig{})

	signedUp, signupSession, err := env.svc.Signup(ctx, "Jane Doe", "jane@x.com", "secret123", "")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	user, session, err := env.svc.Login(ctx, "Jane@X.com", "secret123", "")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if user.ID != signedUp.ID {
		t.Errorf("user.ID = %q, want %q", user.ID, signedUp.ID)
	}
	if session.ID == signupSession.ID {
		t.Error("login should issue a fresh session ID")
	}
}

func TestLogin_WrongPasswordAndUnknownEmail_ReturnSameError(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, ServiceConfig{})

	if _, _, err := env.svc.Signup(ctx, "Jane Doe", "jane@x.com", "secret123", ""); err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	_, _, wrongPassErr := env.svc.Login(ctx, "jane@x.com", "wrongpass", "")
	_, _, unknownErr := env.svc.Login(ctx, "nobody@x.com", "secret123", "")

	a := assertAPIErrorCode(t, wrongPassErr, model.ErrCodeInvalidCredentials)
	b := assertAPIErrorCode(t, unknownErr, model.ErrCodeInvalidCredentials)

	if *a != *b {
		t.Errorf("errors should be identical:\n wrong password: %+v\n unknown email:  %+v", a, b)
	}
	if a.Category != model.CategoryAuthentication {
		t.Errorf("category = %q, want %q", a.Category, model.CategoryAuthentication)
	}
	if strings.Contains(strings.ToLower(a.Message), "not found") || strings.Contains(strings.ToLower(a.Message), "exist") {
		t.Errorf("message should not reveal account existence: %q", a.Message)
	}
}

func TestLogin_DummyPasswordForUnknownUser_StillFails(t *testing.T) {
	env := newTestEnv(t, nil, ServiceConfig{})

	_, _, err := env.svc.Login(context.Background(), "nobody@x.com", dummyPassword, "")
	assertAPIErrorCode(t, err, model.ErrCodeInvalidCredentials)
}

func TestLogin_RotatesPreviousSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, ServiceConfig{})

	_, oldSession, err := env.svc.Signup(ctx, "Jane Doe", "jane@x.com", "secret123", "")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	_, newSession, err := env.svc.Login(ctx, "jane@x.com", "secret123", oldSession.ID)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if got, _ := env.sessions.FindByID(ctx, oldSession.ID); got != nil {
		t.Error("previous session should be discarded on login")
	}
	if got, _ := env.sessions.FindByID(ctx, newSession.ID); got == nil {
		t.Error("new session should exist")
	}
}

func TestSignup_DiscardsPreviousSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, ServiceConfig{})

	_, oldSession, err := env.svc.Signup(ctx, "Jane Doe", "jane@x.com", "secret123", "")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	_, newSession, err := env.svc.Signup(ctx, "John Roe", "john@x.com", "secret123", oldSession.ID)
	if err != nil {
		t.Fatalf("second Signup() error = %v", err)
	}

	if got, _ := env.sessions.FindByID(ctx, oldSession.ID); got != nil {
		t.Error("session carried into signup should be discarded")
	}
	if got, _ := env.sessions.FindByID(ctx, newSession.ID); got == nil || got.UserID == oldSession.UserID {
		t.Errorf("new session = %+v, want one owned by the new user", got)
	}
}

func TestSignup_Failure_KeepsPreviousSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, ServiceConfig{})

	_, oldSession, err := env.svc.Signup(ctx, "Jane Doe", "jane@x.com", "secret123", "")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	if _, _, err := env.svc.Signup(ctx, "Jane", "jane@x.com", "secret123", oldSession.ID); err == nil {
		t.Fatal("expected duplicate email error")
	}
	if got, _ := env.sessions.FindByID(ctx, oldSession.ID); got == nil {
		t.Error("failed signup must not discard the existing session")
	}
}

func TestLogin_FailedAttempt_DoesNotCreateSession(t *testing.T) {
	ctx := context.Background()
	created := 0
	sessions := &mockSessionRepo{
		createFn: func(ctx context.Context, session *model.Session) error {
			created++
			return nil
		},
	}
	env := newTestEnv(t, sessions, ServiceConfig{})

	if _, _, err := env.svc.Signup(ctx, "Jane", "jane@x.com", "secret123", ""); err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	created = 0

	if _, _, err := env.svc.Login(ctx, "jane@x.com", "nope-nope", ""); err == nil {
		t.Fatal("expected login failure")
	}
	if created != 0 {
		t.Errorf("sessions created = %d, want 0", created)
	}
}

// --- Logout ---

func TestLogout_InvalidatesSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, ServiceConfig{})

	_, session, err := env.svc.Signup(ctx, "Jane", "jane@x.com", "secret123", "")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	if err := env.svc.Logout(ctx, session.ID); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	user, err := env.svc.CheckSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("CheckSession() error = %v", err)
	}
	if user != nil {
		t.Error("session should no longer resolve to a user after logout")
	}
}

func TestLogout_Idempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, ServiceConfig{})

	_, session, _ := env.svc.Signup(ctx, "Jane", "jane@x.com", "secret123", "")

	for i := 0; i < 2; i++ {
		if err := env.svc.Logout(ctx, session.ID); err != nil {
			t.Errorf("Logout() call %d error = %v", i+1, err)
		}
	}
	if err := env.svc.Logout(ctx, ""); err != nil {
		t.Errorf("Logout() without session error = %v", err)
	}
	if env.metrics.logouts != 3 {
		t.Errorf("logout metrics = %d, want 3", env.metrics.logouts)
	}
}

// --- CheckSession ---

func TestCheckSession_NoSessionID_Unauthenticated(t *testing.T) {
	env := newTestEnv(t, nil, ServiceConfig{})

	user, err := env.svc.CheckSession(context.Background(), "")
	if err != nil {
		t.Fatalf("CheckSession() error = %v", err)
	}
	if user != nil {
		t.Error("expected unauthenticated")
	}
}

func TestCheckSession_ValidSession_ReturnsUserAndTouches(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, ServiceConfig{})

	signedUp, session, _ := env.svc.Signup(ctx, "Jane", "jane@x.com", "secret123", "")

	later := time.Now().Add(5 * time.Minute)
	env.svc.now = func() time.Time { return later }

	user, err := env.svc.CheckSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("CheckSession() error = %v", err)
	}
	if user == nil || user.ID != signedUp.ID {
		t.Fatalf("user = %+v, want ID %q", user, signedUp.ID)
	}

	stored, _ := env.sessions.FindByID(ctx, session.ID)
	if !stored.LastSeenAt.Equal(later) {
		t.Errorf("LastSeenAt = %v, want %v", stored.LastSeenAt, later)
	}

	// 繰り返しのチェックでも認証済みのまま
	if again, _ := env.svc.CheckSession(ctx, session.ID); again == nil {
		t.Error("repeated check should remain authenticated")
	}
}

func TestCheckSession_IdleTimeout_Unauthenticated(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, ServiceConfig{IdleTimeout: 30 * time.Minute})

	_, session, _ := env.svc.Signup(ctx, "Jane", "jane@x.com", "secret123", "")

	// 絶対期限内だが最終アクセスから31分経過
	env.svc.now = func() time.Time { return time.Now().Add(31 * time.Minute) }

	user, err := env.svc.CheckSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("CheckSession() error = %v", err)
	}
	if user != nil {
		t.Error("idle session should be unauthenticated")
	}

	env.svc.now = time.Now
	if stored, _ := env.sessions.FindByID(ctx, session.ID); stored != nil {
		t.Error("idle session should be deleted")
	}
}

func TestCheckSession_DeletedUser_Unauthenticated(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, ServiceConfig{})

	user, session, _ := env.svc.Signup(ctx, "Jane", "jane@x.com", "secret123", "")
	_ = env.users.DeleteByID(ctx, user.ID)

	got, err := env.svc.CheckSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("CheckSession() error = %v", err)
	}
	if got != nil {
		t.Error("session of a deleted user should be unauthenticated")
	}
	if stored, _ := env.sessions.FindByID(ctx, session.ID); stored != nil {
		t.Error("orphaned session should be deleted")
	}
}

func TestCheckSession_StoreError_ReturnsError(t *testing.T) {
	sessions := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return nil, errors.New("connection refused")
		},
	}
	env := newTestEnv(t, sessions, ServiceConfig{})

	if _, err := env.svc.CheckSession(context.Background(), "some-session"); err == nil {
		t.Fatal("expected error when the session store is unavailable")
	}
	if got := env.metrics.checks; len(got) != 1 || got[0] != ResultError {
		t.Errorf("check metrics = %v, want [error]", got)
	}
}

func TestCheckSession_TouchFailure_StillAuthenticated(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemorySessionRepo()
	sessions := &mockSessionRepo{
		createFn:   mem.Create,
		findByIDFn: mem.FindByID,
		touchFn: func(ctx context.Context, id string, lastSeenAt time.Time) error {
			return errors.New("write failed")
		},
	}
	env := newTestEnv(t, sessions, ServiceConfig{})

	_, session, err := env.svc.Signup(ctx, "Jane", "jane@x.com", "secret123", "")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	user, err := env.svc.CheckSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("CheckSession() error = %v", err)
	}
	if user == nil {
		t.Error("touch failure should not unauthenticate the user")
	}
}

// --- その他 ---

func TestFingerprint(t *testing.T) {
	if Fingerprint("") != "" {
		t.Error("empty session ID should produce empty fingerprint")
	}
	fp := Fingerprint("abcdef")
	if len(fp) != 8 {
		t.Errorf("fingerprint length = %d, want 8", len(fp))
	}
	if strings.Contains(fp, "abcdef") {
		t.Error("fingerprint should not contain the raw session ID")
	}
	if Fingerprint("abcdef") != fp {
		t.Error("fingerprint should be deterministic")
	}
}

func TestGenerateSessionID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := generateSessionID()
		if err != nil {
			t.Fatalf("generateSessionID() error = %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate session ID generated: %s", id)
		}
		seen[id] = true
	}
}
