package api

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	models "SignalBridge/internal/domain/models"
	domrepo "SignalBridge/internal/domain/repository"
	"SignalBridge/internal/service/ratelimit"
	"SignalBridge/internal/usecase"
	xhttp "SignalBridge/pkg/http"
	"SignalBridge/pkg/http/middleware"
	xlogger "SignalBridge/pkg/logger"

	"github.com/labstack/echo/v4"
)

// SignalCreator is the write side used by POST /api/signals.
type SignalCreator interface {
	Create(ctx context.Context, symbol, interval string) (*models.Signal, error)
}

// SignalReader is the read side behind the GET endpoints and the interval setting.
type SignalReader interface {
	List(ctx context.Context) ([]models.Signal, error)
	Get(ctx context.Context, id string) (*models.Signal, error)
	Pending(ctx context.Context) ([]models.PendingEntry, error)
	Features(ctx context.Context, symbol, interval string) (models.FeaturesResponse, error)
	Interval() (string, error)
	SetInterval(interval string) error
}

// Pinger reports whether the record store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

var registerOnce sync.Once

// SignalsEchoHandler serves the signal API.
type SignalsEchoHandler struct {
	logger  *xlogger.Logger
	creator SignalCreator
	reader  SignalReader
	reqLog  domrepo.RequestLog
	store   Pinger
	limiter *ratelimit.Limiter
	loc     *time.Location
}

func NewSignalsEchoHandler(
	logger *xlogger.Logger,
	creator SignalCreator,
	reader SignalReader,
	reqLog domrepo.RequestLog,
	store Pinger,
	limiter *ratelimit.Limiter,
	loc *time.Location,
) *SignalsEchoHandler {
	registerOnce.Do(func() {
		_ = xhttp.RegisterValidation("interval", domrepo.IsValidInterval)
	})
	if logger == nil {
		logger = xlogger.Nop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &SignalsEchoHandler{
		logger:  logger,
		creator: creator,
		reader:  reader,
		reqLog:  reqLog,
		store:   store,
		limiter: limiter,
		loc:     loc,
	}
}

func (h *SignalsEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api")
	if h.reqLog != nil {
		g.Use(middleware.AccessLog(
			func(c echo.Context) bool { return c.Request().Method != http.MethodGet },
			h.recordAccess,
		))
	}
	g.POST("/signals", h.Create, h.rateLimit)
	g.GET("/signals", h.List)
	g.GET("/signals/:id", h.Get)
	g.GET("/pending", h.Pending)
	g.GET("/features", h.Features)
	g.GET("/interval", h.Interval)
	g.POST("/interval", h.SetInterval)
	g.GET("/logs", h.Logs)
}

func (h *SignalsEchoHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.limiter != nil && !h.limiter.Allow(c.RealIP()) {
			h.logger.Warn("signal creation rate limited", xlogger.String("remote", c.RealIP()))
			return xhttp.TooManyRequestsResponse(c)
		}
		return next(c)
	}
}

func (h *SignalsEchoHandler) Create(c echo.Context) error {
	req := &models.CreateSignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	sig, err := h.creator.Create(c.Request().Context(), strings.TrimSpace(req.Symbol), req.Interval)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.CreatedResponse(c, &models.CreateSignalResponse{ID: sig.ID, Signal: sig})
}

func (h *SignalsEchoHandler) List(c echo.Context) error {
	req := &models.ListRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.reader.List(c.Request().Context())
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	total := int64(len(rows))
	if len(rows) > req.Limit {
		rows = rows[:req.Limit]
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=5")
	return xhttp.ListResponse(c, rows, total)
}

func (h *SignalsEchoHandler) Get(c echo.Context) error {
	req := &models.SignalIDRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sig, err := h.reader.Get(c.Request().Context(), req.ID)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, sig)
}

func (h *SignalsEchoHandler) Pending(c echo.Context) error {
	rows, err := h.reader.Pending(c.Request().Context())
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *SignalsEchoHandler) Features(c echo.Context) error {
	req := &models.FeaturesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.reader.Features(c.Request().Context(), strings.TrimSpace(req.Symbol), req.Interval)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *SignalsEchoHandler) Interval(c echo.Context) error {
	v, err := h.reader.Interval()
	if err != nil {
		h.logger.Warn("read interval", xlogger.Error(err))
	}
	return xhttp.SuccessResponse(c, &models.IntervalResponse{Interval: v})
}

func (h *SignalsEchoHandler) SetInterval(c echo.Context) error {
	req := &models.SetIntervalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.reader.SetInterval(req.Interval); err != nil {
		h.logger.Error("persist interval", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("could not persist interval").WithError(err))
	}
	h.logger.Info("interval updated", xlogger.String("interval", req.Interval))
	return xhttp.SuccessResponse(c, &models.IntervalResponse{Interval: req.Interval})
}

func (h *SignalsEchoHandler) Logs(c echo.Context) error {
	if h.reqLog == nil {
		return xhttp.ListResponse(c, []domrepo.RequestLogEntry{}, 0)
	}
	rows, err := h.reqLog.Read()
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.InternalError("could not read request log").WithError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// Health always answers 200; firebase reports whether the record store answered.
func (h *SignalsEchoHandler) Health(c echo.Context) error {
	res := &models.HealthResponse{OK: true}
	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			h.logger.Warn("health: record store unreachable", xlogger.Error(err))
		} else {
			res.Firebase = true
		}
	}
	return c.JSON(http.StatusOK, res)
}

func (h *SignalsEchoHandler) recordAccess(e middleware.AccessEntry) {
	err := h.reqLog.Append(domrepo.RequestLogEntry{
		Timestamp: e.Time.In(h.loc).Format(models.DateTimeLayout),
		IP:        e.IP,
		Method:    e.Method,
		Path:      e.Path,
		Status:    e.Status,
	})
	if err != nil {
		h.logger.Warn("append request log", xlogger.Error(err))
	}
}

var kindWords = regexp.MustCompile(`([a-z])([A-Z])`)

// toAppError maps a usecase failure onto an API error with code ERR_<KIND>.
func toAppError(err error) *xhttp.AppError {
	kind := usecase.KindOf(err)
	if kind == "" {
		return xhttp.InternalError("unexpected error").WithError(err)
	}
	code := "ERR_" + strings.ToUpper(kindWords.ReplaceAllString(string(kind), "${1}_${2}"))

	var appErr *xhttp.AppError
	switch kind {
	case usecase.FeatureUnavailable, usecase.UnsupportedSymbol:
		appErr = xhttp.NewAppError(code, "", err.Error(), http.StatusBadRequest)
	case usecase.NotFound:
		appErr = xhttp.NotFoundError(err.Error())
	case usecase.PriceUnavailable, usecase.PredictorUnavailable, usecase.StoreUnavailable:
		appErr = xhttp.BadGatewayError(code, err.Error())
	default:
		appErr = xhttp.NewAppError(code, "", err.Error(), http.StatusInternalServerError)
	}
	if stage := usecase.StageOf(err); stage != "" {
		appErr = appErr.WithParam("stage", stage)
	}
	return appErr.WithError(err)
}
