package auth_test

import (
	"context"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	auth "github.com/sample-tayo/teekect-auth"
)

// MockHTTPAuthenticator implements auth.HTTPAuthenticator
type MockHTTPAuthenticator struct {
	mock.Mock
}

func (m *MockHTTPAuthenticator) Login(ctx router.Context, payload auth.LoginPayload) (string, error) {
	args := m.Called(ctx, payload)
	return args.String(0), args.Error(1)
}

func (m *MockHTTPAuthenticator) Logout(ctx router.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockHTTPAuthenticator) ProtectedRoute(optional bool) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return next
	}
}

func (m *MockHTTPAuthenticator) SessionFromRequest(ctx router.Context) (auth.Session, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(auth.Session), args.Error(1)
}

func newTestController(t *testing.T, repo *MockRepositoryManager, auther auth.HTTPAuthenticator) *auth.AuthController {
	t.Helper()
	return auth.NewAuthController(func(c *auth.AuthController) *auth.AuthController {
		c.Logger = testLogger{t}
		c.Repo = repo
		c.Auther = auther
		c.Cfg = newTestConfig()
		c.Mailer = &MockMailer{}
		return c
	})
}

func expectJSON(ctx *MockContext, status int) *map[string]any {
	body := &map[string]any{}
	ctx.On("JSON", status, mock.Anything).
		Return(nil).
		Run(func(args mock.Arguments) {
			*body = args.Get(1).(map[string]any)
		})
	return body
}

func TestRegistrationCreate(t *testing.T) {
	repo := newMockRepositoryManager()
	repo.expectTx()
	repo.users.On("GetByIdentifierTx", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, repository.NewRecordNotFound()).Twice()
	repo.users.On("CreateTx", mock.Anything, mock.Anything, mock.AnythingOfType("*auth.User")).
		Return(&auth.User{ID: uuid.New(), Username: "ada", Email: "ada@example.com"}, nil).Once()

	controller := newTestController(t, repo, &MockHTTPAuthenticator{})
	mailer := controller.Mailer.(*MockMailer)
	mailer.On("Send", mock.Anything, "ada@example.com", auth.MailTemplateVerification, mock.Anything).
		Return(nil).Once()

	ctx := &MockContext{}
	ctx.On("Context").Return(context.Background())
	ctx.On("Bind", mock.AnythingOfType("*auth.RegistrationCreatePayload")).
		Return(nil).
		Run(func(args mock.Arguments) {
			payload := args.Get(0).(*auth.RegistrationCreatePayload)
			payload.FirstName = "Ada"
			payload.LastName = "Lovelace"
			payload.Username = "ada"
			payload.Email = "ada@example.com"
			payload.Password = "sekret-password"
		})
	body := expectJSON(ctx, router.StatusCreated)

	require.NoError(t, controller.RegistrationCreate(ctx))

	user, ok := (*body)["user"].(*auth.User)
	require.True(t, ok)
	assert.Equal(t, "ada", user.Username)

	repo.users.AssertExpectations(t)
	mailer.AssertExpectations(t)
}

func TestRegistrationCreateValidation(t *testing.T) {
	controller := newTestController(t, newMockRepositoryManager(), &MockHTTPAuthenticator{})

	ctx := &MockContext{}
	ctx.On("Bind", mock.AnythingOfType("*auth.RegistrationCreatePayload")).
		Return(nil).
		Run(func(args mock.Arguments) {
			payload := args.Get(0).(*auth.RegistrationCreatePayload)
			payload.FirstName = "Ada"
			payload.LastName = "Lovelace"
			payload.Username = "ada"
			payload.Email = "not-an-email"
			payload.Password = "short"
		})
	body := expectJSON(ctx, goerrors.CodeBadRequest)

	require.NoError(t, controller.RegistrationCreate(ctx))

	fields, ok := (*body)["fields"].(map[string]string)
	require.True(t, ok)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")
}

func TestLoginPost(t *testing.T) {
	auther := &MockHTTPAuthenticator{}
	controller := newTestController(t, newMockRepositoryManager(), auther)

	ctx := &MockContext{}
	ctx.On("Bind", mock.AnythingOfType("*auth.LoginRequest")).
		Return(nil).
		Run(func(args mock.Arguments) {
			payload := args.Get(0).(*auth.LoginRequest)
			payload.Identifier = "ada"
			payload.Password = "sekret-password"
		})

	auther.On("Login", ctx, mock.MatchedBy(func(p auth.LoginPayload) bool {
		return p.GetIdentifier() == "ada" && p.GetPassword() == "sekret-password"
	})).Return("minted-token", nil).Once()

	body := expectJSON(ctx, router.StatusOK)

	require.NoError(t, controller.LoginPost(ctx))

	assert.Equal(t, "minted-token", (*body)["token"])
	assert.Equal(t, "Bearer", (*body)["token_type"])
	auther.AssertExpectations(t)
}

func TestLoginPostBadCredentials(t *testing.T) {
	auther := &MockHTTPAuthenticator{}
	controller := newTestController(t, newMockRepositoryManager(), auther)

	ctx := &MockContext{}
	ctx.On("Bind", mock.AnythingOfType("*auth.LoginRequest")).
		Return(nil).
		Run(func(args mock.Arguments) {
			payload := args.Get(0).(*auth.LoginRequest)
			payload.Identifier = "ada"
			payload.Password = "wrong"
		})

	auther.On("Login", ctx, mock.Anything).
		Return("", auth.ErrMismatchedHashAndPassword).Once()

	body := expectJSON(ctx, goerrors.CodeUnauthorized)

	require.NoError(t, controller.LoginPost(ctx))
	assert.Equal(t, auth.TextCodeInvalidCredentials, (*body)["code"])
}

func TestLoginPostMissingIdentifier(t *testing.T) {
	controller := newTestController(t, newMockRepositoryManager(), &MockHTTPAuthenticator{})

	ctx := &MockContext{}
	ctx.On("Bind", mock.AnythingOfType("*auth.LoginRequest")).Return(nil)
	body := expectJSON(ctx, goerrors.CodeBadRequest)

	require.NoError(t, controller.LoginPost(ctx))

	fields, ok := (*body)["fields"].(map[string]string)
	require.True(t, ok)
	assert.Contains(t, fields, "identifier")
}

func TestVerifyShow(t *testing.T) {
	user := &auth.User{
		ID:    uuid.New(),
		Email: "ada@example.com",
	}
	expires := time.Now().Add(time.Minute)
	user.VerificationHash = auth.HashSecret("plain-secret")
	user.VerificationExpiresAt = &expires

	repo := newMockRepositoryManager()
	repo.expectTx()
	repo.users.On("GetByVerificationHash", mock.Anything, auth.HashSecret("plain-secret")).
		Return(user, nil).Once()
	repo.users.On("MarkVerifiedTx", mock.Anything, mock.Anything, user.ID).Return(nil).Once()

	controller := newTestController(t, repo, &MockHTTPAuthenticator{})
	controller.Mailer.(*MockMailer).
		On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	ctx := &MockContext{}
	ctx.On("Context").Return(context.Background())
	ctx.On("Query", "token").Return("plain-secret")
	ctx.On("Redirect", "/verified", []int{router.StatusFound}).Return(nil).Once()

	require.NoError(t, controller.VerifyShow(ctx))
	ctx.AssertExpectations(t)
}

func TestVerifyShowMissingToken(t *testing.T) {
	controller := newTestController(t, newMockRepositoryManager(), &MockHTTPAuthenticator{})

	ctx := &MockContext{}
	ctx.On("Query", "token").Return("")
	body := expectJSON(ctx, goerrors.CodeBadRequest)

	require.NoError(t, controller.VerifyShow(ctx))
	assert.NotEmpty(t, (*body)["error"])
}

func TestVerifyShowUnknownSecret(t *testing.T) {
	repo := newMockRepositoryManager()
	repo.expectTx()
	repo.users.On("GetByVerificationHash", mock.Anything, mock.Anything).
		Return(nil, repository.NewRecordNotFound()).Once()

	controller := newTestController(t, repo, &MockHTTPAuthenticator{})

	ctx := &MockContext{}
	ctx.On("Context").Return(context.Background())
	ctx.On("Query", "token").Return("ghost-secret")
	body := expectJSON(ctx, goerrors.CodeNotFound)

	require.NoError(t, controller.VerifyShow(ctx))
	assert.Equal(t, auth.TextCodeSecretInvalid, (*body)["code"])
}

func TestLogoutPostAlwaysSucceeds(t *testing.T) {
	auther := &MockHTTPAuthenticator{}
	auther.On("Logout", mock.Anything).
		Return(goerrors.New("registry unavailable", goerrors.CategoryInternal)).Once()

	controller := newTestController(t, newMockRepositoryManager(), auther)

	ctx := &MockContext{}
	body := expectJSON(ctx, router.StatusOK)

	require.NoError(t, controller.LogoutPost(ctx))
	assert.Equal(t, "logged out", (*body)["message"])
}

func TestChangePasswordPostRequiresSession(t *testing.T) {
	controller := newTestController(t, newMockRepositoryManager(), &MockHTTPAuthenticator{})

	ctx := &MockContext{}
	ctx.On("Locals", "user").Return(nil)
	body := expectJSON(ctx, goerrors.CodeUnauthorized)

	require.NoError(t, controller.ChangePasswordPost(ctx))
	assert.NotEmpty(t, (*body)["error"])
}

func TestUsersIndexAdminOnly(t *testing.T) {
	controller := newTestController(t, newMockRepositoryManager(), &MockHTTPAuthenticator{})

	ctx := &MockContext{}
	ctx.On("Locals", "user").Return(claimsFor("user-1", auth.RoleUser))
	body := expectJSON(ctx, goerrors.CodeForbidden)

	require.NoError(t, controller.UsersIndex(ctx))
	assert.Equal(t, auth.TextCodeForbidden, (*body)["code"])
}

func TestUsersIndex(t *testing.T) {
	records := []*auth.User{
		{ID: uuid.New(), Username: "ada"},
		{ID: uuid.New(), Username: "grace"},
	}

	repo := newMockRepositoryManager()
	repo.users.On("GetAll", mock.Anything).Return(records, nil).Once()

	controller := newTestController(t, repo, &MockHTTPAuthenticator{})

	ctx := &MockContext{}
	ctx.On("Context").Return(context.Background())
	ctx.On("Locals", "user").Return(claimsFor("admin-1", auth.RoleAdmin))
	body := expectJSON(ctx, router.StatusOK)

	require.NoError(t, controller.UsersIndex(ctx))

	listed, ok := (*body)["users"].([]*auth.User)
	require.True(t, ok)
	assert.Len(t, listed, 2)
	repo.users.AssertExpectations(t)
}

func TestUserShowSelf(t *testing.T) {
	userID := uuid.New()
	user := &auth.User{ID: userID, Username: "ada"}

	repo := newMockRepositoryManager()
	repo.users.On("GetByID", mock.Anything, userID.String()).Return(user, nil).Once()

	controller := newTestController(t, repo, &MockHTTPAuthenticator{})

	ctx := &MockContext{}
	ctx.On("Context").Return(context.Background())
	ctx.On("Locals", "user").Return(claimsFor(userID.String(), auth.RoleUser))
	ctx.On("Param", "userId").Return(userID.String())
	body := expectJSON(ctx, router.StatusOK)

	require.NoError(t, controller.UserShow(ctx))

	got, ok := (*body)["user"].(*auth.User)
	require.True(t, ok)
	assert.Equal(t, userID, got.ID)
}

func TestUserShowOtherForbidden(t *testing.T) {
	controller := newTestController(t, newMockRepositoryManager(), &MockHTTPAuthenticator{})

	ctx := &MockContext{}
	ctx.On("Locals", "user").Return(claimsFor(uuid.NewString(), auth.RoleUser))
	ctx.On("Param", "userId").Return(uuid.NewString())
	body := expectJSON(ctx, goerrors.CodeForbidden)

	require.NoError(t, controller.UserShow(ctx))
	assert.Equal(t, auth.TextCodeForbidden, (*body)["code"])
}

func TestUserShowAdminReadsAnyone(t *testing.T) {
	targetID := uuid.New()
	user := &auth.User{ID: targetID}

	repo := newMockRepositoryManager()
	repo.users.On("GetByID", mock.Anything, targetID.String()).Return(user, nil).Once()

	controller := newTestController(t, repo, &MockHTTPAuthenticator{})

	ctx := &MockContext{}
	ctx.On("Context").Return(context.Background())
	ctx.On("Locals", "user").Return(claimsFor(uuid.NewString(), auth.RoleAdmin))
	ctx.On("Param", "userId").Return(targetID.String())
	expectJSON(ctx, router.StatusOK)

	require.NoError(t, controller.UserShow(ctx))
}

func TestProfileUpdateSelf(t *testing.T) {
	userID := uuid.New()
	user := &auth.User{ID: userID, FirstName: "Ada", Username: "ada"}

	repo := newMockRepositoryManager()
	repo.users.On("GetByID", mock.Anything, userID.String()).Return(user, nil).Once()
	repo.users.On("Update", mock.Anything, user).Return(user, nil).Once()

	controller := newTestController(t, repo, &MockHTTPAuthenticator{})

	ctx := &MockContext{}
	ctx.On("Context").Return(context.Background())
	ctx.On("Locals", "user").Return(claimsFor(userID.String(), auth.RoleUser))
	ctx.On("Param", "userId").Return(userID.String())
	ctx.On("Bind", mock.AnythingOfType("*auth.ProfileUpdatePayload")).
		Return(nil).
		Run(func(args mock.Arguments) {
			payload := args.Get(0).(*auth.ProfileUpdatePayload)
			payload.FirstName = "Augusta"
		})
	expectJSON(ctx, router.StatusOK)

	require.NoError(t, controller.ProfileUpdate(ctx))

	// unset payload fields keep their stored values
	assert.Equal(t, "Augusta", user.FirstName)
	assert.Equal(t, "ada", user.Username)
	repo.users.AssertExpectations(t)
}

func TestProfileUpdateOtherForbidden(t *testing.T) {
	repo := newMockRepositoryManager()
	controller := newTestController(t, repo, &MockHTTPAuthenticator{})

	ctx := &MockContext{}
	ctx.On("Locals", "user").Return(claimsFor(uuid.NewString(), auth.RoleAdmin))
	ctx.On("Param", "userId").Return(uuid.NewString())
	body := expectJSON(ctx, goerrors.CodeForbidden)

	require.NoError(t, controller.ProfileUpdate(ctx))
	assert.Equal(t, auth.TextCodeForbidden, (*body)["code"])

	repo.users.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestUserDelete(t *testing.T) {
	targetID := uuid.New()
	user := &auth.User{ID: targetID}

	repo := newMockRepositoryManager()
	repo.expectTx()
	repo.users.On("GetByID", mock.Anything, targetID.String()).Return(user, nil).Once()
	repo.audit.On("CreateTx", mock.Anything, mock.Anything, mock.Anything).
		Return(&auth.AuditEntry{ID: uuid.New()}, nil).Once()
	repo.users.On("SoftDeleteTx", mock.Anything, mock.Anything, targetID).Return(nil).Once()

	controller := newTestController(t, repo, &MockHTTPAuthenticator{})

	ctx := &MockContext{}
	ctx.On("Context").Return(context.Background())
	ctx.On("Locals", "user").Return(claimsFor(uuid.NewString(), auth.RoleAdmin))
	ctx.On("Param", "userId").Return(targetID.String())
	body := expectJSON(ctx, router.StatusOK)

	require.NoError(t, controller.UserDelete(ctx))
	assert.Equal(t, "user deleted", (*body)["message"])
	repo.users.AssertExpectations(t)
}

func TestUserDeleteInvalidID(t *testing.T) {
	controller := newTestController(t, newMockRepositoryManager(), &MockHTTPAuthenticator{})

	ctx := &MockContext{}
	ctx.On("Locals", "user").Return(claimsFor(uuid.NewString(), auth.RoleAdmin))
	ctx.On("Param", "userId").Return("not-a-uuid")
	body := expectJSON(ctx, goerrors.CodeBadRequest)

	require.NoError(t, controller.UserDelete(ctx))
	assert.NotEmpty(t, (*body)["error"])
}

func TestUserDeleteForbidden(t *testing.T) {
	repo := newMockRepositoryManager()
	controller := newTestController(t, repo, &MockHTTPAuthenticator{})

	ctx := &MockContext{}
	ctx.On("Locals", "user").Return(claimsFor(uuid.NewString(), auth.RoleOrganizer))
	body := expectJSON(ctx, goerrors.CodeForbidden)

	require.NoError(t, controller.UserDelete(ctx))
	assert.Equal(t, auth.TextCodeForbidden, (*body)["code"])

	repo.AssertNotCalled(t, "RunInTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestRoleUpdate(t *testing.T) {
	targetID := uuid.New()
	user := &auth.User{ID: targetID, Role: auth.RoleUser}

	repo := newMockRepositoryManager()
	repo.expectTx()
	repo.users.On("GetByID", mock.Anything, targetID.String()).Return(user, nil).Once()
	repo.audit.On("CreateTx", mock.Anything, mock.Anything, mock.Anything).
		Return(&auth.AuditEntry{ID: uuid.New()}, nil).Once()
	repo.users.On("UpdateRoleTx", mock.Anything, mock.Anything, targetID, auth.RoleOrganizer).
		Return(nil).Once()

	controller := newTestController(t, repo, &MockHTTPAuthenticator{})

	ctx := &MockContext{}
	ctx.On("Context").Return(context.Background())
	ctx.On("Locals", "user").Return(claimsFor(uuid.NewString(), auth.RoleAdmin))
	ctx.On("Param", "userId").Return(targetID.String())
	ctx.On("Bind", mock.AnythingOfType("*auth.RoleUpdatePayload")).
		Return(nil).
		Run(func(args mock.Arguments) {
			payload := args.Get(0).(*auth.RoleUpdatePayload)
			payload.Role = "organizer"
		})
	body := expectJSON(ctx, router.StatusOK)

	require.NoError(t, controller.RoleUpdate(ctx))

	updated, ok := (*body)["user"].(*auth.User)
	require.True(t, ok)
	assert.Equal(t, auth.RoleOrganizer, updated.Role)
	repo.users.AssertExpectations(t)
}

func TestRoleUpdateInvalidRole(t *testing.T) {
	controller := newTestController(t, newMockRepositoryManager(), &MockHTTPAuthenticator{})

	ctx := &MockContext{}
	ctx.On("Context").Return(context.Background())
	ctx.On("Locals", "user").Return(claimsFor(uuid.NewString(), auth.RoleAdmin))
	ctx.On("Param", "userId").Return(uuid.NewString())
	ctx.On("Bind", mock.AnythingOfType("*auth.RoleUpdatePayload")).
		Return(nil).
		Run(func(args mock.Arguments) {
			payload := args.Get(0).(*auth.RoleUpdatePayload)
			payload.Role = "superuser"
		})
	body := expectJSON(ctx, goerrors.CodeBadRequest)

	require.NoError(t, controller.RoleUpdate(ctx))
	assert.NotEmpty(t, (*body)["error"])
}

func TestValidateStringEquals(t *testing.T) {
	rule := auth.ValidateStringEquals("expected")
	assert.NoError(t, rule("expected"))
	assert.Error(t, rule("different"))
	assert.Error(t, rule(42))
}

func TestFormatValidationErrorToMap(t *testing.T) {
	payload := auth.ResetPasswordPayload{}
	err := payload.Validate()
	require.Error(t, err)

	fields := auth.FormatValidationErrorToMap(err)
	assert.Contains(t, fields, "token")
	assert.Contains(t, fields, "password")

	assert.Empty(t, auth.FormatValidationErrorToMap(nil))

	opaque := auth.FormatValidationErrorToMap(goerrors.New("boom", goerrors.CategoryInternal))
	assert.Contains(t, opaque, "error")
}
