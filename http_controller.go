package auth

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// Middleware is the subset of the route authenticator the routes need.
type Middleware interface {
	ProtectedRoute(optional bool) router.MiddlewareFunc
}

// RegisterAuthRoutes wires the account lifecycle endpoints into the router.
// Unauthenticated routes cover registration, verification, login, and the
// password reset flow; everything else runs behind the token middleware.
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) {

	controller := NewAuthController(opts...)

	protected := controller.Auther.ProtectedRoute(false)

	base := controller.Routes.Users

	app.Post(base, controller.RegistrationCreate).
		SetName("users.register")

	app.Get(controller.Routes.Verify, controller.VerifyShow).
		SetName("users.verify")
	app.Post(controller.Routes.Reverify, controller.ReverifyPost).
		SetName("users.reverify")

	app.Post(controller.Routes.Login, controller.LoginPost).
		SetName("users.sign-in")
	app.Post(controller.Routes.Logout, controller.LogoutPost).
		SetName("users.sign-out")

	app.Post(controller.Routes.ForgotPassword, controller.ForgotPasswordPost).
		SetName("users.pwd-forgot")
	app.Post(controller.Routes.ResetPassword, controller.ResetPasswordPost).
		SetName("users.pwd-reset")

	app.Post(controller.Routes.ChangePassword, controller.ChangePasswordPost, protected).
		SetName("users.pwd-change")

	app.Get(base, controller.UsersIndex, protected).
		SetName("users.index")
	app.Get(fmt.Sprintf("%s/:userId", base), controller.UserShow, protected).
		SetName("users.show")
	app.Put(fmt.Sprintf("%s/:userId", base), controller.ProfileUpdate, protected).
		SetName("users.update")
	app.Delete(fmt.Sprintf("%s/:userId", base), controller.UserDelete, protected).
		SetName("users.delete")
	app.Patch(fmt.Sprintf("%s/:userId/role", base), controller.RoleUpdate, protected).
		SetName("users.role")
}

type AuthControllerRoutes struct {
	Users          string
	Login          string
	Logout         string
	Verify         string
	Reverify       string
	ForgotPassword string
	ResetPassword  string
	ChangePassword string
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Repo         RepositoryManager
	Auther       HTTPAuthenticator
	Cfg          Config
	Secrets      SecretService
	Mailer       Mailer
	Policy       *AuthorizationPolicy
	Activity     ActivitySink
	Routes       *AuthControllerRoutes
	ErrorHandler router.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:   defLogger{},
		Secrets:  NewSecretService(),
		Policy:   DefaultAuthorizationPolicy(),
		Activity: noopActivitySink{},
		Routes: &AuthControllerRoutes{
			Users:          "/users",
			Login:          "/users/login",
			Logout:         "/users/logout",
			Verify:         "/users/verify",
			Reverify:       "/users/reverify",
			ForgotPassword: "/users/forgot-password",
			ResetPassword:  "/users/reset-password",
			ChangePassword: "/users/change-password",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing HTTPAuthenticator in auth controller...")
	}

	if c.Cfg == nil {
		panic("Missing Config in auth controller...")
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = JSONErrorHandler(c.Logger)
	}

	return c
}

// WithLogger sets the controller logger.
func (a *AuthController) WithLogger(logger Logger) *AuthController {
	if logger != nil {
		a.Logger = logger
	}
	return a
}

// RegistrationCreatePayload is the registration request body
type RegistrationCreatePayload struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// Validate will validate the payload
func (r RegistrationCreatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Username, validation.Required, validation.Length(3, 100)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 100)),
	)
}

func (a *AuthController) RegistrationCreate(ctx router.Context) error {
	payload := new(RegistrationCreatePayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("register user parse payload: ", "error", err)
		return a.ErrorHandler(ctx, bindError(err))
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("register user validate payload: ", "error", err)
		return a.ErrorHandler(ctx, validationError(err))
	}

	if a.Debug {
		a.Logger.Debug("register payload", "payload", print.MaybePrettyJSON(payload))
	}

	var created *User

	msg := RegisterUserMessage{
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Username:  payload.Username,
		Email:     payload.Email,
		Password:  payload.Password,
		OnResponse: func(resp *RegisterUserResponse) {
			created = resp.User
		},
	}

	registerUser := NewRegisterUserHandler(a.Repo, a.Secrets, a.Mailer).
		WithLogger(a.Logger).
		WithSecretValidity(a.Cfg.GetSecretValidityWindow())

	if err := registerUser.Execute(ctx.Context(), msg); err != nil {
		a.Logger.Error("register user error: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusCreated, map[string]any{
		"user": created,
	})
}

// VerifyShow consumes the emailed secret from the query string and, on
// success, redirects the browser to the configured landing page.
func (a *AuthController) VerifyShow(ctx router.Context) error {
	secret := ctx.Query("token")
	if secret == "" {
		return a.ErrorHandler(ctx, goerrors.New("verification token is required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest))
	}

	verify := NewVerifyAccountHandler(a.Repo, a.Mailer).
		WithLogger(a.Logger).
		WithActivitySink(a.Activity)

	if err := verify.Execute(ctx.Context(), VerifyAccountMessage{Secret: secret}); err != nil {
		a.Logger.Error("verify account error: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.Redirect(a.Cfg.GetVerifiedRedirect(), router.StatusFound)
}

// ReverifyPayload asks for a fresh verification window
type ReverifyPayload struct {
	Email string `json:"email"`
}

// Validate will validate the payload
func (r ReverifyPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *AuthController) ReverifyPost(ctx router.Context) error {
	payload := new(ReverifyPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, bindError(err))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, validationError(err))
	}

	reverify := NewReverifyAccountHandler(a.Repo, a.Mailer).
		WithLogger(a.Logger).
		WithSecretValidity(a.Cfg.GetSecretValidityWindow())

	if err := reverify.Execute(ctx.Context(), ReverifyAccountMessage{Email: payload.Email}); err != nil {
		a.Logger.Error("reverify account error: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"message": "verification window extended",
	})
}

// LoginRequest payload
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

// GetIdentifier returns the identifier
func (r LoginRequest) GetIdentifier() string {
	return r.Identifier
}

// GetPassword will return the password
func (r LoginRequest) GetPassword() string {
	return r.Password
}

// GetExtendedSession reports whether the client asked for a long session
func (r LoginRequest) GetExtendedSession() bool {
	return r.RememberMe
}

// Validate will run validation rules. The identifier can be either a
// username or an email so only presence is checked.
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Identifier, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AuthController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, bindError(err))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, validationError(err))
	}

	token, err := a.Auther.Login(ctx, payload)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"token":      token,
		"token_type": "Bearer",
	})
}

// LogoutPost revokes the presented token. A request without a usable token
// still succeeds so logout stays idempotent.
func (a *AuthController) LogoutPost(ctx router.Context) error {
	if err := a.Auther.Logout(ctx); err != nil {
		a.Logger.Warn("logout revocation error: ", "error", err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"message": "logged out",
	})
}

// ForgotPasswordPayload starts the password reset flow
type ForgotPasswordPayload struct {
	Email string `json:"email"`
}

// Validate will validate the payload
func (r ForgotPasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *AuthController) ForgotPasswordPost(ctx router.Context) error {
	payload := new(ForgotPasswordPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, bindError(err))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, validationError(err))
	}

	initReset := NewInitializePasswordResetHandler(a.Repo, a.Secrets, a.Mailer).
		WithLogger(a.Logger).
		WithActivitySink(a.Activity).
		WithSecretValidity(a.Cfg.GetSecretValidityWindow())

	msg := InitializePasswordResetMessage{Email: payload.Email}

	if err := initReset.Execute(ctx.Context(), msg); err != nil {
		a.Logger.Error("password reset initialize error: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"message": "password reset instructions sent",
	})
}

// ResetPasswordPayload finalizes the password reset flow
type ResetPasswordPayload struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// Validate will validate the payload
func (r ResetPasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 100)),
	)
}

func (a *AuthController) ResetPasswordPost(ctx router.Context) error {
	payload := new(ResetPasswordPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, bindError(err))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, validationError(err))
	}

	finalizeReset := NewFinalizePasswordResetHandler(a.Repo).
		WithLogger(a.Logger).
		WithActivitySink(a.Activity)

	msg := FinalizePasswordResetMessage{
		Secret:   payload.Token,
		Password: payload.Password,
	}

	if err := finalizeReset.Execute(ctx.Context(), msg); err != nil {
		a.Logger.Error("password reset finalize error: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"message": "password updated",
	})
}

// ChangePasswordPayload rotates the caller's own password
type ChangePasswordPayload struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Validate will validate the payload
func (r ChangePasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.NewPassword)),
		),
	)
}

func (a *AuthController) ChangePasswordPost(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, a.Cfg.GetContextKey())
	if !ok {
		return a.ErrorHandler(ctx, ErrUnableToFindSession)
	}

	if err := a.Policy.Authorize(claims, ActionChangePassword); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	userID, err := uuid.Parse(claims.UserID())
	if err != nil {
		return a.ErrorHandler(ctx, ErrUnableToDecodeSession)
	}

	payload := new(ChangePasswordPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, bindError(err))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, validationError(err))
	}

	changePwd := NewChangePasswordHandler(a.Repo).
		WithLogger(a.Logger).
		WithActivitySink(a.Activity)

	var resp *ChangePasswordResponse

	msg := ChangePasswordMessage{
		UserID:          userID,
		CurrentPassword: payload.CurrentPassword,
		NewPassword:     payload.NewPassword,
		ConfirmPassword: payload.ConfirmPassword,
		OnResponse: func(r *ChangePasswordResponse) {
			resp = r
		},
	}

	if err := changePwd.Execute(ctx.Context(), msg); err != nil {
		a.Logger.Error("change password error: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	body := map[string]any{
		"message": "password changed",
	}
	if resp != nil {
		body["changed_at"] = resp.ChangedAt
	}

	return ctx.JSON(router.StatusOK, body)
}

func (a *AuthController) UsersIndex(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, a.Cfg.GetContextKey())
	if !ok {
		return a.ErrorHandler(ctx, ErrUnableToFindSession)
	}

	if err := a.Policy.Authorize(claims, ActionListUsers); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	records, err := a.Repo.Users().GetAll(ctx.Context())
	if err != nil {
		a.Logger.Error("users index error: ", "error", err)
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list users"))
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"users": records,
	})
}

// UserShow returns a single account. Admins may read anyone; other roles
// only themselves.
func (a *AuthController) UserShow(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, a.Cfg.GetContextKey())
	if !ok {
		return a.ErrorHandler(ctx, ErrUnableToFindSession)
	}

	targetID := ctx.Param("userId")

	if err := a.Policy.AuthorizeSelfOrRole(claims, targetID, ActionReadUser, RoleAdmin); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	user, err := a.Repo.Users().GetByID(ctx.Context(), targetID)
	if err != nil {
		return a.ErrorHandler(ctx, ErrIdentityNotFound.Clone())
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"user": user,
	})
}

// ProfileUpdatePayload carries the editable profile fields
type ProfileUpdatePayload struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// Validate will validate the payload
func (r ProfileUpdatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Length(1, 200)),
		validation.Field(&r.Username, validation.Length(3, 100)),
	)
}

// ProfileUpdate lets an account edit its own profile. The check is strictly
// self scoped: admins do not edit other people's profiles through this
// route.
func (a *AuthController) ProfileUpdate(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, a.Cfg.GetContextKey())
	if !ok {
		return a.ErrorHandler(ctx, ErrUnableToFindSession)
	}

	targetID := ctx.Param("userId")

	if err := a.Policy.AuthorizeSelf(claims, targetID, ActionUpdateProfile); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := new(ProfileUpdatePayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, bindError(err))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, validationError(err))
	}

	user, err := a.Repo.Users().GetByID(ctx.Context(), targetID)
	if err != nil {
		return a.ErrorHandler(ctx, ErrIdentityNotFound.Clone())
	}

	if payload.FirstName != "" {
		user.FirstName = payload.FirstName
	}
	if payload.LastName != "" {
		user.LastName = payload.LastName
	}
	if payload.Username != "" {
		user.Username = payload.Username
	}

	updated, err := a.Repo.Users().Update(ctx.Context(), user)
	if err != nil {
		a.Logger.Error("profile update error: ", "error", err)
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryConflict, "could not update profile").
			WithCode(goerrors.CodeConflict).
			WithTextCode(TextCodeConflict))
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"user": updated,
	})
}

// UserDelete soft deletes an account and records an audit entry in the
// same transaction.
func (a *AuthController) UserDelete(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, a.Cfg.GetContextKey())
	if !ok {
		return a.ErrorHandler(ctx, ErrUnableToFindSession)
	}

	if err := a.Policy.Authorize(claims, ActionDeleteUser); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	targetID, err := uuid.Parse(ctx.Param("userId"))
	if err != nil {
		return a.ErrorHandler(ctx, goerrors.New("invalid user id", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest))
	}

	remove := NewDeleteUserHandler(a.Repo).
		WithLogger(a.Logger).
		WithActivitySink(a.Activity)

	msg := DeleteUserMessage{UserID: targetID}

	if err := remove.Execute(ctx.Context(), msg); err != nil {
		a.Logger.Error("delete user error: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"message": "user deleted",
	})
}

// RoleUpdatePayload changes a user's role
type RoleUpdatePayload struct {
	Role string `json:"role"`
}

// Validate will validate the payload
func (r RoleUpdatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Role, validation.Required),
	)
}

func (a *AuthController) RoleUpdate(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, a.Cfg.GetContextKey())
	if !ok {
		return a.ErrorHandler(ctx, ErrUnableToFindSession)
	}

	if err := a.Policy.Authorize(claims, ActionUpdateRole); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	targetID, err := uuid.Parse(ctx.Param("userId"))
	if err != nil {
		return a.ErrorHandler(ctx, goerrors.New("invalid user id", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest))
	}

	payload := new(RoleUpdatePayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, bindError(err))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, validationError(err))
	}

	updateRole := NewUpdateUserRoleHandler(a.Repo).
		WithLogger(a.Logger).
		WithActivitySink(a.Activity)

	var updated *User

	msg := UpdateUserRoleMessage{
		UserID: targetID,
		Role:   payload.Role,
		OnResponse: func(u *User) {
			updated = u
		},
	}

	if err := updateRole.Execute(ctx.Context(), msg); err != nil {
		a.Logger.Error("role update error: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"user": updated,
	})
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

// FormatValidationErrorToMap flattens ozzo validation errors into a field
// to message map.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}

	out["error"] = err.Error()
	return out
}

func bindError(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse request body").
		WithCode(goerrors.CodeBadRequest)
}

func validationError(err error) error {
	return goerrors.New("validation failed", goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{
			"fields": FormatValidationErrorToMap(err),
		})
}
