package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/territorios-app/territorios/internal/auth"
	gateway "github.com/territorios-app/territorios/internal/gateways"
	"github.com/territorios-app/territorios/internal/handlers"
	"github.com/territorios-app/territorios/internal/model"
	"github.com/territorios-app/territorios/internal/permission"
	"github.com/territorios-app/territorios/internal/processor"
	"github.com/territorios-app/territorios/internal/queue"
	"github.com/territorios-app/territorios/internal/repository"
	"github.com/territorios-app/territorios/internal/services"
	xhttp "github.com/territorios-app/territorios/pkg/http"
	"github.com/territorios-app/territorios/pkg/pg"
	"github.com/territorios-app/territorios/pkg/redis"
	"github.com/territorios-app/territorios/test/fixtures"
	"github.com/territorios-app/territorios/test/helpers"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

type stubIdentity map[string]model.Identity

func (s stubIdentity) VerifyToken(_ context.Context, token string) (*model.Identity, error) {
	id, ok := s[token]
	if !ok {
		return nil, gateway.ErrTokenRejected
	}
	return &id, nil
}

type TestEnvironment struct {
	DB           *pg.DB
	Redis        *miniredis.Miniredis
	RedisAdapter redis.RedisAdapter
	Clock        *helpers.Clock
	Identity     stubIdentity
	Issuer       *auth.Issuer
	ImportQueue  queue.QueueConfig
	Importer     *services.ImportService
	JobStore     *processor.JobStore

	server *xhttp.Engine
	client *fasthttp.Client
}

func setupE2EEnvironment(t *testing.T) *TestEnvironment {
	db := helpers.SetupTestDB(t)
	mr, adapter := helpers.SetupTestRedis(t)

	env := &TestEnvironment{
		DB:           db,
		Redis:        mr,
		RedisAdapter: adapter,
		Clock:        helpers.NewClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		Identity: stubIdentity{
			"idp-super": {UID: fixtures.SuperAdminUID, Phone: fixtures.SuperAdminPhone, Provider: "phone"},
		},
		Issuer: auth.NewIssuer("e2e-secret", "territorios", time.Hour),
		ImportQueue: queue.QueueConfig{
			Name:              "phones:import",
			ConsumerGroup:     "importers",
			ConsumerName:      "e2e",
			MaxRetries:        3,
			VisibilityTimeout: 5 * time.Second,
			PollInterval:      20 * time.Millisecond,
			BatchSize:         5,
			EnableDLQ:         true,
		},
	}

	phoneRepo := repository.NewPhoneRepository(db)
	phoneService := services.NewPhoneService(phoneRepo, services.DefaultPhoneServiceConfig(),
		services.WithLocker(redis.NewLocker(adapter, "lock:")),
		services.WithClock(env.Clock.Now),
	)
	env.Importer = services.NewImportService(phoneRepo)
	territoryService := services.NewTerritoryService(repository.NewTerritoryRepository(db))
	userService := services.NewUserService(repository.NewUserRepository(db), permission.SuperAdmin{
		Phone: fixtures.SuperAdminPhone,
	})

	q, err := queue.NewQueue(adapter, env.ImportQueue)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Stop(time.Second) })
	env.JobStore = processor.NewJobStore(adapter, q, time.Hour)

	health := services.NewHealthService(time.Second)
	health.Register("database", db)
	health.Register("redis", adapter)

	authenticator := handlers.NewAuthenticator(env.Issuer)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestIDMiddleware)

	g := s.Router.Group("/api/v1")
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(health))
	handlers.RegisterAuthRoutes(g, handlers.NewAuthHandler(env.Identity, userService, env.Issuer))
	handlers.RegisterPhoneRoutes(g, handlers.NewPhoneHandler(phoneService, env.Importer), authenticator)
	handlers.RegisterImportJobRoutes(g, handlers.NewImportJobHandler(env.JobStore), authenticator)
	handlers.RegisterTerritoryRoutes(g, handlers.NewTerritoryHandler(territoryService), authenticator)
	handlers.RegisterUserRoutes(g, handlers.NewUserHandler(userService), authenticator)
	require.NoError(t, s.DoRouting())

	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = s.Server.Serve(ln) }()
	t.Cleanup(func() { _ = s.Server.Shutdown() })

	env.server = s
	env.client = &fasthttp.Client{
		Dial: func(string) (net.Conn, error) { return ln.Dial() },
	}
	return env
}

func (env *TestEnvironment) do(t *testing.T, method, path, token string, body []byte) (int, []byte) {
	t.Helper()

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://territorios.test" + path)
	req.Header.SetMethod(method)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.SetBody(body)
		req.Header.SetContentType("application/json")
	}

	require.NoError(t, env.client.DoTimeout(req, resp, 5*time.Second))
	return resp.StatusCode(), append([]byte(nil), resp.Body()...)
}

func (env *TestEnvironment) doJSON(t *testing.T, method, path, token string, in, out interface{}) int {
	t.Helper()

	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		require.NoError(t, err)
	}
	status, raw := env.do(t, method, path, token, body)
	if out != nil && len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, out), string(raw))
	}
	return status
}

type sessionResponse struct {
	Token string         `json:"token"`
	User  *model.AppUser `json:"user"`
}

func (env *TestEnvironment) login(t *testing.T, idpToken string) (int, *sessionResponse) {
	t.Helper()
	var out sessionResponse
	status := env.doJSON(t, "POST", "/api/v1/auth/session", "", map[string]string{"token": idpToken}, &out)
	return status, &out
}

func (env *TestEnvironment) superAdminToken(t *testing.T) string {
	t.Helper()
	status, s := env.login(t, "idp-super")
	require.Equal(t, 201, status)
	return s.Token
}

func (env *TestEnvironment) tokenFor(t *testing.T, role model.Role) string {
	t.Helper()
	token, _, err := env.Issuer.NewAccessToken(&model.AppUser{UID: "uid-" + string(role), Role: role})
	require.NoError(t, err)
	return token
}

func TestE2E_Health(t *testing.T) {
	env := setupE2EEnvironment(t)

	var out services.HealthStatus
	status := env.doJSON(t, "GET", "/api/v1/health", "", nil, &out)
	assert.Equal(t, 200, status)
	assert.Equal(t, "ok", out.Checks["database"])
	assert.Equal(t, "ok", out.Checks["redis"])
}

func TestE2E_LoginAndUserManagement(t *testing.T) {
	env := setupE2EEnvironment(t)

	status, super := env.login(t, "idp-super")
	require.Equal(t, 201, status)
	assert.Equal(t, model.RoleSuperAdmin, super.User.Role)

	var me model.AppUser
	require.Equal(t, 200, env.doJSON(t, "GET", "/api/v1/users/me", super.Token, nil, &me))
	assert.Equal(t, fixtures.SuperAdminUID, me.UID)

	var created model.AppUser
	status = env.doJSON(t, "POST", "/api/v1/users", super.Token,
		fixtures.NewUserCreateRequest("+52 55 1111 2222", model.RoleConductor), &created)
	require.Equal(t, 201, status)
	assert.Equal(t, "525511112222", created.PhoneNumber)

	// the first sign-in with the registered phone links the real identity
	env.Identity["idp-conductor"] = model.Identity{UID: "uid-real-conductor", Phone: "525511112222", Provider: "phone"}
	status, conductor := env.login(t, "idp-conductor")
	require.Equal(t, 201, status)
	assert.Equal(t, "uid-real-conductor", conductor.User.UID)
	assert.Equal(t, model.RoleConductor, conductor.User.Role)

	t.Run("unregistered phone is refused", func(t *testing.T) {
		env.Identity["idp-stranger"] = model.Identity{UID: "uid-stranger", Phone: "525500000077"}
		status, _ := env.login(t, "idp-stranger")
		assert.Equal(t, 403, status)
	})

	t.Run("rejected provider token", func(t *testing.T) {
		status, _ := env.login(t, "forged")
		assert.Equal(t, 401, status)
	})

	t.Run("conductor cannot create users", func(t *testing.T) {
		status := env.doJSON(t, "POST", "/api/v1/users", conductor.Token,
			fixtures.NewUserCreateRequest("525533334444", model.RolePublisher), nil)
		assert.Equal(t, 403, status)
	})

	t.Run("deactivated users cannot sign in", func(t *testing.T) {
		status := env.doJSON(t, "POST", "/api/v1/users/uid-real-conductor/deactivate", super.Token, nil, nil)
		require.Equal(t, 204, status)

		status, _ = env.login(t, "idp-conductor")
		assert.Equal(t, 403, status)
	})
}

func TestE2E_PhoneRotation(t *testing.T) {
	env := setupE2EEnvironment(t)
	admin := env.superAdminToken(t)
	publisher := env.tokenFor(t, model.RolePublisher)

	var imported model.ImportResult
	status, raw := env.do(t, "POST", "/api/v1/phones/import", admin, []byte(fixtures.ImportText(40)))
	require.Equal(t, 200, status, string(raw))
	require.NoError(t, json.Unmarshal(raw, &imported))
	assert.Equal(t, 40, imported.Created)

	t.Run("publishers cannot export", func(t *testing.T) {
		assert.Equal(t, 403, env.doJSON(t, "POST", "/api/v1/phones/export?size=30", publisher, nil, nil))
	})

	var exported struct {
		Records []*model.PhoneRecord `json:"records"`
		Count   int                  `json:"count"`
	}
	require.Equal(t, 200, env.doJSON(t, "POST", "/api/v1/phones/export?size=30", admin, nil, &exported))
	assert.Equal(t, 30, exported.Count)
	for _, r := range exported.Records {
		assert.True(t, r.IsAssigned)
	}

	var stats model.PhoneStats
	require.Equal(t, 200, env.doJSON(t, "GET", "/api/v1/phones/stats", admin, nil, &stats))
	assert.Equal(t, 40, stats.Total)
	assert.Equal(t, 10, stats.Available)
	assert.Equal(t, 30, stats.InCooldown)

	assert.Equal(t, 409, env.doJSON(t, "POST", "/api/v1/phones/export?size=30", admin, nil, nil),
		"only ten records are left outside the cooldown")

	// call every remaining record
	var batch model.BatchResult
	require.Equal(t, 200, env.doJSON(t, "GET", "/api/v1/phones/available?size=50", publisher, nil, &batch))
	require.Len(t, batch.Records, 10)
	for _, r := range batch.Records {
		status := env.doJSON(t, "PUT", "/api/v1/phones/"+r.ID+"/status", publisher,
			map[string]string{"call_status": string(model.CallStatusAnswered)}, nil)
		require.Equal(t, 200, status)
	}

	// the called records are cleared and handed out again
	batch = model.BatchResult{}
	require.Equal(t, 200, env.doJSON(t, "GET", "/api/v1/phones/available", publisher, nil, &batch))
	assert.True(t, batch.NeedsReset)
	assert.Len(t, batch.Records, 10)
	for _, r := range batch.Records {
		assert.Empty(t, r.CallStatus)
	}

	var reset model.ResetResult
	require.Equal(t, 200, env.doJSON(t, "POST", "/api/v1/phones/reset", admin, nil, &reset))
	assert.Zero(t, reset.Cleared, "nothing is left to clear")

	require.Equal(t, 200, env.doJSON(t, "GET", "/api/v1/phones/stats", admin, nil, &stats))
	assert.Equal(t, 10, stats.Available)
	assert.Equal(t, 30, stats.InCooldown)

	// the exported records come back once the cooldown has passed
	env.Clock.Advance(model.DefaultCooldown + time.Hour)
	require.Equal(t, 200, env.doJSON(t, "GET", "/api/v1/phones/stats", admin, nil, &stats))
	assert.Equal(t, 40, stats.Available)
	assert.Zero(t, stats.InCooldown)
}

func TestE2E_ImportDuplicates(t *testing.T) {
	env := setupE2EEnvironment(t)
	admin := env.superAdminToken(t)

	var res model.ImportResult
	status, raw := env.do(t, "POST", "/api/v1/phones/import", admin, []byte(fixtures.ImportTextWithDuplicates(10)))
	require.Equal(t, 200, status, string(raw))
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, 5, res.Created)
	assert.Equal(t, 5, res.Skipped)

	assert.Equal(t, 409, env.doJSON(t, "POST", "/api/v1/phones", admin,
		fixtures.NewPhoneCreateRequest("55 2000 0000"), nil))
}

func TestE2E_AsyncImportJob(t *testing.T) {
	env := setupE2EEnvironment(t)
	admin := env.superAdminToken(t)

	status, raw := env.do(t, "POST", "/api/v1/phones/import/jobs", admin, []byte(fixtures.ImportText(25)))
	require.Equal(t, 202, status, string(raw))

	var queued model.ImportProgress
	require.NoError(t, json.Unmarshal(raw, &queued))
	assert.Equal(t, model.ImportJobQueued, queued.State)

	svc := processor.NewProcessorService(env.RedisAdapter, processor.Config{
		Queue:          env.ImportQueue,
		Consumers:      1,
		Workers:        1,
		ReportInterval: time.Minute,
	})
	svc.RegisterProcessor(processor.NewImportProcessor(env.Importer, env.JobStore,
		processor.NewIdempotencyService(env.RedisAdapter, processor.DefaultIdempotencyConfig())))
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Stop)

	var progress model.ImportProgress
	helpers.AssertEventually(t, 5*time.Second, func() bool {
		status := env.doJSON(t, "GET", "/api/v1/phones/import/jobs/"+queued.ID, admin, nil, &progress)
		return status == 200 && progress.State == model.ImportJobCompleted
	}, "import job did not complete")

	assert.Equal(t, 100, progress.Percent)
	require.NotNil(t, progress.Result)
	assert.Equal(t, 25, progress.Result.Created)

	var stats model.PhoneStats
	require.Equal(t, 200, env.doJSON(t, "GET", "/api/v1/phones/stats", admin, nil, &stats))
	assert.Equal(t, 25, stats.Total)

	assert.Equal(t, 404, env.doJSON(t, "GET", "/api/v1/phones/import/jobs/missing", admin, nil, nil))
}

func TestE2E_TerritoryLedger(t *testing.T) {
	env := setupE2EEnvironment(t)
	conductor := env.tokenFor(t, model.RoleConductor)
	publisher := env.tokenFor(t, model.RolePublisher)

	assign := func(req model.AssignRequest) int {
		return env.doJSON(t, "POST", fmt.Sprintf("/api/v1/territories/%d/assign", req.Territory), conductor, req, nil)
	}

	require.Equal(t, 201, assign(fixtures.NewAssignRequest(3, "Juan", 1, 2, 3)))
	assert.Equal(t, 409, assign(fixtures.NewAssignRequest(3, "Pedro", 3, 4)), "block 3 is taken")
	assert.Equal(t, 400, assign(fixtures.NewAssignRequest(3, "Pedro", 99)))
	assert.Equal(t, 403, env.doJSON(t, "POST", "/api/v1/territories/3/assign", publisher,
		fixtures.NewAssignRequest(3, "Pedro", 4), nil))

	var batch struct {
		Results []model.AssignOutcome `json:"results"`
	}
	status := env.doJSON(t, "POST", "/api/v1/territories/assign-batch", conductor, map[string]interface{}{
		"assignments": []model.AssignRequest{
			fixtures.NewAssignRequest(5, "Ana", 1, 2),
			fixtures.NewAssignRequest(3, "Ana", 4, 5),
			fixtures.NewAssignRequest(99, "Ana", 1),
		},
	}, &batch)
	require.Equal(t, 200, status)
	require.Len(t, batch.Results, 3)
	assert.True(t, batch.Results[0].OK)
	assert.True(t, batch.Results[1].OK)
	assert.False(t, batch.Results[2].OK)

	var terr model.Territory
	require.Equal(t, 200, env.doJSON(t, "POST", "/api/v1/territories/3/return", conductor,
		fixtures.NewReturnRequest(0), &terr))
	assert.Len(t, terr.ActiveAssignments, 1)
	require.Len(t, terr.History, 1)
	assert.Equal(t, []int{1, 2, 3}, terr.History[0].BlockNumbers)

	// returned blocks may be handed out again
	assert.Equal(t, 201, assign(fixtures.NewAssignRequest(3, "Luis", 1)))

	var stats model.TerritoryStats
	require.Equal(t, 200, env.doJSON(t, "GET", "/api/v1/territories/stats", publisher, nil, &stats))
	assert.Equal(t, 2, stats.Assigned)
	assert.Zero(t, stats.Completed)
	// territory 3 holds 3 of 15 blocks, territory 5 holds 2 of 8
	assert.InDelta(t, (3.0/15+2.0/8)/2, stats.AverageProgress, 0.001)

	var list struct {
		Items []model.TerritorySummary `json:"items"`
		Total int64                    `json:"total"`
	}
	require.Equal(t, 200, env.doJSON(t, "GET", "/api/v1/territories", publisher, nil, &list))
	assert.EqualValues(t, 22, list.Total)

	assert.Equal(t, 404, env.doJSON(t, "POST", "/api/v1/territories/7/return", conductor,
		fixtures.NewReturnRequest(0), nil))
}
