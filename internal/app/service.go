package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"devqa/api/internal/auth"
	"devqa/api/internal/authpw"
	"devqa/api/internal/config"
	"devqa/api/internal/email"
	"devqa/api/internal/logging"
	"devqa/api/internal/objects"
	"devqa/api/internal/realtime"
	"devqa/api/internal/search"
	"devqa/api/internal/session"
	"devqa/api/internal/store"
	"devqa/api/internal/util"
)

const (
	recentExecutionLimit = 10

	statusCompleted = "completed"
	statusFailed    = "failed"
)

type DataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	InsertProject(context.Context, store.Project) error
	ListProjectsForMember(context.Context, string) ([]store.Project, error)
	InsertTestCase(context.Context, store.TestCase) error
	GetTestCase(context.Context, string) (store.TestCase, error)
	ListTestCases(context.Context, string) ([]store.TestCase, error)
	CountTestCasesInProjects(context.Context, []string) (int, error)
	InsertExecution(context.Context, store.TestExecution) error
	GetExecution(context.Context, string) (store.TestExecution, error)
	ListExecutions(context.Context, string) ([]store.TestExecution, error)
	RecentExecutions(context.Context, int) ([]store.TestExecution, error)
	CountExecutions(context.Context) (int, error)
	UpdateExecution(context.Context, string, store.ExecutionPatch) error
	AppendExecutionLog(context.Context, string, string) error
	AppendExecutionScreenshot(context.Context, string, string) error
	InsertBug(context.Context, store.Bug) error
	ListBugs(context.Context, string) ([]store.Bug, error)
	CountBugsInProjects(context.Context, []string, string) (int, error)
	Ping(context.Context) error
}

type sessionStore interface {
	SaveAccessSession(ctx context.Context, tokenID, userID string, expiresAt time.Time) error
	LookupAccessSession(ctx context.Context, tokenID string) (string, error)
	RevokeAccessSession(ctx context.Context, tokenID string) error
}

type aiBridge interface {
	SuggestTests(ctx context.Context, testCaseID, prompt string) (string, error)
	AnalyzeResults(ctx context.Context, tc store.TestCase, exec store.TestExecution) (string, error)
}

type mailer interface {
	NotifyBugAssigned(to string, data email.BugAssignment) error
}

type searchService interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexTestCase(record search.TestCaseRecord)
	IndexBug(record search.BugRecord)
}

// Session is an authenticated caller.
type Session struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
	User      store.User
}

type AuthResult struct {
	Token string     `json:"token"`
	User  store.User `json:"user"`
}

type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ProjectInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type TestCaseInput struct {
	ProjectID      string   `json:"project_id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Type           string   `json:"type"`
	Steps          []string `json:"steps"`
	ExpectedResult string   `json:"expected_result"`
	Priority       string   `json:"priority"`
}

type ExecutionInput struct {
	TestCaseID string `json:"test_case_id"`
}

// ExecutionUpdateInput is a partial update; nil fields are left untouched.
type ExecutionUpdateInput struct {
	Status *string  `json:"status"`
	Logs   []string `json:"logs"`
	Result *string  `json:"result"`
}

type BugInput struct {
	ProjectID       string  `json:"project_id"`
	TestExecutionID *string `json:"test_execution_id"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	Severity        string  `json:"severity"`
	AssignedTo      *string `json:"assigned_to"`
}

type SuggestTestsInput struct {
	TestCaseID string `json:"test_case_id"`
	Prompt     string `json:"prompt"`
}

type AnalyzeResultsInput struct {
	TestExecutionID string `json:"test_execution_id"`
}

type DashboardStats struct {
	TotalTests       int                   `json:"total_tests"`
	TotalExecutions  int                   `json:"total_executions"`
	RecentExecutions []store.TestExecution `json:"recent_executions"`
	TotalBugs        int                   `json:"total_bugs"`
	OpenBugs         int                   `json:"open_bugs"`
}

type ScreenshotUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type ScreenshotResult struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// updateMessage is what a live viewer receives after its execution changes.
type updateMessage struct {
	Type string              `json:"type"`
	Data store.TestExecution `json:"data"`
}

type Option func(*Service)

func WithSessions(sessions sessionStore) Option {
	return func(s *Service) { s.sessions = sessions }
}

func WithAI(bridge aiBridge) Option {
	return func(s *Service) { s.ai = bridge }
}

func WithObjects(objectStore objects.Store) Option {
	return func(s *Service) { s.objects = objectStore }
}

func WithMailer(m mailer) Option {
	return func(s *Service) { s.mailer = m }
}

func WithSearch(svc searchService) Option {
	return func(s *Service) { s.search = svc }
}

type Service struct {
	cfg      config.Config
	store    DataStore
	auth     *authpw.Service
	registry *realtime.Registry
	logger   logging.Logger
	sessions sessionStore
	ai       aiBridge
	objects  objects.Store
	mailer   mailer
	search   searchService
	now      func() time.Time
}

func New(cfg config.Config, ds DataStore, registry *realtime.Registry, logger logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	if registry == nil {
		registry = realtime.NewRegistry(logger)
	}
	s := &Service{
		cfg:      cfg,
		store:    ds,
		auth:     authpw.NewService(ds),
		registry: registry,
		logger:   logger,
		now:      store.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.search == nil {
		s.search = search.NewService(nil, newStoreSearcher(ds), nil, logger)
	}
	return s
}

func (s *Service) Registry() *realtime.Registry {
	return s.registry
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Auth

func (s *Service) Register(ctx context.Context, input RegisterInput) (AuthResult, error) {
	user, err := s.auth.Register(ctx, authpw.RegisterRequest{
		Email:    strings.TrimSpace(input.Email),
		Password: input.Password,
		Name:     strings.TrimSpace(input.Name),
		Role:     input.Role,
	})
	switch {
	case errors.Is(err, authpw.ErrEmailTaken):
		return AuthResult{}, badRequest("EMAIL_EXISTS", "Email already registered")
	case errors.Is(err, authpw.ErrMissingFields):
		return AuthResult{}, badRequest("VALIDATION_ERROR", err.Error())
	case err != nil:
		return AuthResult{}, err
	}
	return s.issueToken(ctx, user)
}

func (s *Service) Login(ctx context.Context, input LoginInput) (AuthResult, error) {
	user, err := s.auth.Login(ctx, authpw.LoginRequest{Email: strings.TrimSpace(input.Email), Password: input.Password})
	if errors.Is(err, authpw.ErrInvalidCredentials) {
		return AuthResult{}, domainError(401, "INVALID_CREDENTIALS", "Invalid credentials", nil)
	}
	if err != nil {
		return AuthResult{}, err
	}
	return s.issueToken(ctx, user)
}

func (s *Service) issueToken(ctx context.Context, user store.User) (AuthResult, error) {
	expiresAt := time.Now().Add(auth.TokenLifetime)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.Email, jti, expiresAt)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue token: %w", err)
	}
	if s.sessions != nil {
		if err := s.sessions.SaveAccessSession(ctx, jti, user.ID, expiresAt); err != nil {
			return AuthResult{}, fmt.Errorf("save session: %w", err)
		}
	}
	return AuthResult{Token: token, User: user}, nil
}

// SessionFromToken resolves a bearer token to its user. Every rejection is
// reported as auth.ErrInvalidToken or auth.ErrExpiredToken.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	if s.sessions != nil {
		userID, err := s.sessions.LookupAccessSession(ctx, claims.ID)
		if errors.Is(err, session.ErrSessionNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		if err != nil {
			return Session{}, err
		}
		if userID != claims.UserID() {
			return Session{}, auth.ErrInvalidToken
		}
	}

	user, err := s.store.GetUserByID(ctx, claims.UserID())
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return Session{Token: token, JTI: claims.ID, ExpiresAt: expiresAt, User: user}, nil
}

// Logout revokes the token's session. Without a session store tokens are
// stateless and this only acknowledges.
func (s *Service) Logout(ctx context.Context, sess Session) error {
	if s.sessions == nil || sess.JTI == "" {
		return nil
	}
	return s.sessions.RevokeAccessSession(ctx, sess.JTI)
}

// Projects

func (s *Service) CreateProject(ctx context.Context, caller store.User, input ProjectInput) (store.Project, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Project{}, missingField("name")
	}
	project := store.Project{
		ID:          util.NewID(""),
		Name:        name,
		Description: input.Description,
		TeamMembers: []string{caller.ID},
		CreatedBy:   caller.ID,
		CreatedAt:   s.now(),
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return store.Project{}, err
	}
	return project, nil
}

func (s *Service) ListProjects(ctx context.Context, caller store.User) ([]store.Project, error) {
	return s.store.ListProjectsForMember(ctx, caller.ID)
}

// Test cases

func (s *Service) CreateTestCase(ctx context.Context, caller store.User, input TestCaseInput) (store.TestCase, error) {
	if strings.TrimSpace(input.ProjectID) == "" {
		return store.TestCase{}, missingField("project_id")
	}
	if strings.TrimSpace(input.Name) == "" {
		return store.TestCase{}, missingField("name")
	}
	priority := strings.TrimSpace(input.Priority)
	if priority == "" {
		priority = "medium"
	}
	now := s.now()
	tc := store.TestCase{
		ID:             util.NewID(""),
		ProjectID:      input.ProjectID,
		Name:           input.Name,
		Description:    input.Description,
		Type:           input.Type,
		Steps:          nonNilStrings(input.Steps),
		ExpectedResult: input.ExpectedResult,
		Priority:       priority,
		Status:         "active",
		CreatedBy:      caller.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.InsertTestCase(ctx, tc); err != nil {
		return store.TestCase{}, err
	}
	s.search.IndexTestCase(testCaseRecord(tc))
	return tc, nil
}

func (s *Service) ListTestCases(ctx context.Context, projectID string) ([]store.TestCase, error) {
	return s.store.ListTestCases(ctx, projectID)
}

func (s *Service) GetTestCase(ctx context.Context, id string) (store.TestCase, error) {
	tc, err := s.store.GetTestCase(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.TestCase{}, notFound("Test case not found")
	}
	return tc, err
}

// Test executions

func (s *Service) CreateExecution(ctx context.Context, caller store.User, input ExecutionInput) (store.TestExecution, error) {
	if strings.TrimSpace(input.TestCaseID) == "" {
		return store.TestExecution{}, missingField("test_case_id")
	}
	exec := store.TestExecution{
		ID:          util.NewID(""),
		TestCaseID:  input.TestCaseID,
		Status:      "pending",
		StartTime:   s.now(),
		Logs:        []string{},
		Screenshots: []string{},
		ExecutedBy:  caller.ID,
	}
	if err := s.store.InsertExecution(ctx, exec); err != nil {
		return store.TestExecution{}, err
	}
	return exec, nil
}

func (s *Service) ListExecutions(ctx context.Context, testCaseID string) ([]store.TestExecution, error) {
	return s.store.ListExecutions(ctx, testCaseID)
}

func (s *Service) GetExecution(ctx context.Context, id string) (store.TestExecution, error) {
	exec, err := s.store.GetExecution(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.TestExecution{}, notFound("Test execution not found")
	}
	return exec, err
}

// PatchExecution merges the present fields of input, stamps end_time on a
// terminal status, and pushes the stored record to the live viewer.
func (s *Service) PatchExecution(ctx context.Context, id string, input ExecutionUpdateInput) error {
	patch := store.ExecutionPatch{
		Status: input.Status,
		Logs:   input.Logs,
		Result: input.Result,
	}
	if input.Status != nil && isTerminalStatus(*input.Status) {
		now := s.now()
		patch.EndTime = &now
	}

	if err := s.store.UpdateExecution(ctx, id, patch); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("Test execution not found")
		}
		return err
	}
	s.notifyExecution(ctx, id)
	return nil
}

func isTerminalStatus(status string) bool {
	return status == statusCompleted || status == statusFailed
}

// AppendLog pushes one line onto the execution's persisted logs.
func (s *Service) AppendLog(ctx context.Context, id, line string) error {
	if err := s.store.AppendExecutionLog(ctx, id, line); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("Test execution not found")
		}
		return err
	}
	return nil
}

// notifyExecution re-reads the execution and delivers it to the registered
// viewer. Failures are logged and never reach the caller.
func (s *Service) notifyExecution(ctx context.Context, id string) {
	exec, err := s.store.GetExecution(ctx, id)
	if err != nil {
		s.logger.Warn(ctx, "reload execution for notify failed", "execution_id", id, "error", err)
		return
	}
	s.registry.Deliver(ctx, id, updateMessage{Type: "update", Data: exec})
}

func (s *Service) UploadScreenshot(ctx context.Context, id string, upload ScreenshotUpload) (ScreenshotResult, error) {
	if s.objects == nil {
		return ScreenshotResult{}, domainError(503, "STORAGE_UNAVAILABLE", "Screenshot storage is not configured", nil)
	}
	if _, err := s.GetExecution(ctx, id); err != nil {
		return ScreenshotResult{}, err
	}

	key := objects.ScreenshotKey(id, upload.Filename)
	if err := s.objects.Put(ctx, key, upload.Body, upload.Size, upload.ContentType); err != nil {
		return ScreenshotResult{}, err
	}
	if err := s.store.AppendExecutionScreenshot(ctx, id, key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ScreenshotResult{}, notFound("Test execution not found")
		}
		return ScreenshotResult{}, err
	}
	s.notifyExecution(ctx, id)

	url, err := s.objects.PresignGet(ctx, key, objects.PresignTTL)
	if err != nil {
		return ScreenshotResult{}, err
	}
	return ScreenshotResult{Key: key, URL: url}, nil
}

// Bugs

func (s *Service) CreateBug(ctx context.Context, caller store.User, input BugInput) (store.Bug, error) {
	if strings.TrimSpace(input.ProjectID) == "" {
		return store.Bug{}, missingField("project_id")
	}
	if strings.TrimSpace(input.Title) == "" {
		return store.Bug{}, missingField("title")
	}
	now := s.now()
	bug := store.Bug{
		ID:              util.NewID(""),
		ProjectID:       input.ProjectID,
		TestExecutionID: input.TestExecutionID,
		Title:           input.Title,
		Description:     input.Description,
		Severity:        input.Severity,
		Status:          "open",
		ReportedBy:      caller.ID,
		AssignedTo:      input.AssignedTo,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.InsertBug(ctx, bug); err != nil {
		return store.Bug{}, err
	}
	s.search.IndexBug(bugRecord(bug))
	s.notifyAssignee(bug)
	return bug, nil
}

func (s *Service) ListBugs(ctx context.Context, projectID string) ([]store.Bug, error) {
	return s.store.ListBugs(ctx, projectID)
}

func (s *Service) notifyAssignee(bug store.Bug) {
	if s.mailer == nil || bug.AssignedTo == nil || *bug.AssignedTo == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		assignee, err := s.store.GetUserByID(ctx, *bug.AssignedTo)
		if err != nil {
			s.logger.Warn(ctx, "bug assignee lookup failed", "bug_id", bug.ID, "assigned_to", *bug.AssignedTo, "error", err)
			return
		}
		err = s.mailer.NotifyBugAssigned(assignee.Email, email.BugAssignment{
			UserName:  assignee.Name,
			BugID:     bug.ID,
			Title:     bug.Title,
			Severity:  bug.Severity,
			ProjectID: bug.ProjectID,
		})
		if err != nil {
			s.logger.Warn(ctx, "bug assignment email failed", "bug_id", bug.ID, "error", err)
		}
	}()
}

// Dashboard

func (s *Service) DashboardStats(ctx context.Context, caller store.User) (DashboardStats, error) {
	projects, err := s.store.ListProjectsForMember(ctx, caller.ID)
	if err != nil {
		return DashboardStats{}, err
	}
	projectIDs := make([]string, 0, len(projects))
	for _, project := range projects {
		projectIDs = append(projectIDs, project.ID)
	}

	var stats DashboardStats
	if stats.TotalTests, err = s.store.CountTestCasesInProjects(ctx, projectIDs); err != nil {
		return DashboardStats{}, err
	}
	if stats.TotalExecutions, err = s.store.CountExecutions(ctx); err != nil {
		return DashboardStats{}, err
	}
	if stats.RecentExecutions, err = s.store.RecentExecutions(ctx, recentExecutionLimit); err != nil {
		return DashboardStats{}, err
	}
	if stats.TotalBugs, err = s.store.CountBugsInProjects(ctx, projectIDs, ""); err != nil {
		return DashboardStats{}, err
	}
	if stats.OpenBugs, err = s.store.CountBugsInProjects(ctx, projectIDs, "open"); err != nil {
		return DashboardStats{}, err
	}
	if stats.RecentExecutions == nil {
		stats.RecentExecutions = []store.TestExecution{}
	}
	return stats, nil
}

// AI

func (s *Service) SuggestTests(ctx context.Context, input SuggestTestsInput) (string, error) {
	if strings.TrimSpace(input.TestCaseID) == "" {
		return "", missingField("test_case_id")
	}
	if strings.TrimSpace(input.Prompt) == "" {
		return "", missingField("prompt")
	}
	if s.ai == nil {
		return "", serviceError("AI_ERROR", "AI service is not configured")
	}
	text, err := s.ai.SuggestTests(ctx, input.TestCaseID, input.Prompt)
	if err != nil {
		s.logger.Error(ctx, "ai suggest failed", "test_case_id", input.TestCaseID, "error", err)
		return "", serviceError("AI_ERROR", err.Error())
	}
	return text, nil
}

// AnalyzeResults loads the execution and its test case and asks for an
// analysis. Every failure, missing records included, is a service error.
func (s *Service) AnalyzeResults(ctx context.Context, input AnalyzeResultsInput) (string, error) {
	if strings.TrimSpace(input.TestExecutionID) == "" {
		return "", missingField("test_execution_id")
	}
	if s.ai == nil {
		return "", serviceError("AI_ERROR", "AI service is not configured")
	}
	exec, err := s.store.GetExecution(ctx, input.TestExecutionID)
	if errors.Is(err, store.ErrNotFound) {
		return "", serviceError("AI_ERROR", "Test execution not found")
	}
	if err != nil {
		return "", serviceError("AI_ERROR", err.Error())
	}
	tc, err := s.store.GetTestCase(ctx, exec.TestCaseID)
	if errors.Is(err, store.ErrNotFound) {
		return "", serviceError("AI_ERROR", "Test case not found")
	}
	if err != nil {
		return "", serviceError("AI_ERROR", err.Error())
	}

	text, err := s.ai.AnalyzeResults(ctx, tc, exec)
	if err != nil {
		s.logger.Error(ctx, "ai analyze failed", "execution_id", exec.ID, "error", err)
		return "", serviceError("AI_ERROR", err.Error())
	}
	return text, nil
}

// Search

func (s *Service) Search(ctx context.Context, text, resultType, projectID string) (search.Response, error) {
	typ, ok := search.ParseResultType(resultType)
	if !ok {
		return search.Response{}, badRequest("INVALID_TYPE", "type must be test_case or bug")
	}
	return s.search.Search(ctx, search.Query{
		Text:            strings.TrimSpace(text),
		FilterType:      typ,
		FilterProjectID: projectID,
		Limit:           search.DefaultLimit,
	}), nil
}

func testCaseRecord(tc store.TestCase) search.TestCaseRecord {
	return search.TestCaseRecord{
		ID:          tc.ID,
		Name:        tc.Name,
		Description: tc.Description,
		ProjectID:   tc.ProjectID,
		Type:        tc.Type,
		Priority:    tc.Priority,
		Status:      tc.Status,
	}
}

func bugRecord(bug store.Bug) search.BugRecord {
	return search.BugRecord{
		ID:          bug.ID,
		Title:       bug.Title,
		Description: bug.Description,
		ProjectID:   bug.ProjectID,
		Severity:    bug.Severity,
		Status:      bug.Status,
	}
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
