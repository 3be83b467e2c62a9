package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"grafsys/board"
	"grafsys/domain"
	"grafsys/stats"
)

const (
	DefaultHeartbeat      = 15 * time.Second
	defaultEnqueueTimeout = 10 * time.Second
)

// Server bundles the dependencies of the HTTP handlers.
type Server struct {
	Board   BoardSource
	Store   Storage
	Catalog Catalog
	Auth    Authenticator
	Deduper Deduper
	Broker  *Broker
	Logger  log.FieldLogger
	// Now is the clock situations are computed with.
	Now       func() time.Time
	Heartbeat time.Duration
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, s Server) {
	if s.Logger == nil {
		s.Logger = log.StandardLogger()
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.Heartbeat <= 0 {
		s.Heartbeat = DefaultHeartbeat
	}
	if s.Broker == nil {
		s.Broker = NewBroker()
	}
	e.GET("/api/board", getBoard(s))
	e.GET("/api/board/stream", streamBoard(s))
	e.GET("/api/orders/:id", getOrder(s))
	e.POST("/api/commands", postCommands(s), GzipRequestMiddleware(postCommandMaxSize+1))
	e.GET("/api/sellers/:id/stats", getSellerStats(s))
	e.GET("/healthz", healthz(s))
}

func healthz(s Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.Board == nil || s.Board.Snapshot() == nil {
			return c.String(http.StatusServiceUnavailable, "board not loaded")
		}
		if err := s.Board.Err(); err != nil {
			return c.String(http.StatusServiceUnavailable, err.Error())
		}
		return c.NoContent(http.StatusOK)
	}
}

// renderBoard classifies every order of snap at now, columns in workflow order.
func renderBoard(snap *board.Snapshot, now time.Time) boardResponse {
	resp := boardResponse{Columns: make([]boardColumn, 0, len(domain.TrackedStatuses))}
	if snap == nil {
		return resp
	}
	resp.Version = snap.Version
	for _, status := range domain.TrackedStatuses {
		orders := snap.Orders(status)
		col := boardColumn{Status: status, Orders: make([]boardOrder, len(orders))}
		for i, o := range orders {
			col.Orders[i] = boardOrder{Order: o, Situation: domain.Classify(o, now)}
		}
		resp.Columns = append(resp.Columns, col)
	}
	return resp
}

func getBoard(s Server) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), s.Logger, "/api/board")
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		_, authErr := s.Auth.UserIDFromAuthHeader(authHeader(c))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return c.String(http.StatusUnauthorized, authErr.Error())
		}

		fetchStart := time.Now()
		resp := renderBoard(s.Board.Snapshot(), s.Now())
		metrics.ObserveFetch(time.Since(fetchStart))
		count := 0
		for _, col := range resp.Columns {
			count += len(col.Orders)
		}
		metrics.SetItemsReturned(count)

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, resp)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func streamBoard(s Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := s.Auth.UserIDFromAuthHeader(authHeader(c)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		ctx := c.Request().Context()
		ch := s.Broker.subscribe()
		logger := s.Logger.WithField("route", "/api/board/stream")
		logger.WithField("subscribers", s.Broker.Subscribers()).Debug("board stream connected")
		defer func() {
			s.Broker.unsubscribe(ch)
			logger.WithField("subscribers", s.Broker.Subscribers()).Debug("board stream disconnected")
		}()
		heartbeat := time.NewTicker(s.Heartbeat)
		defer heartbeat.Stop()

		var sent uint64
		first := true
		for {
			snap := s.Board.Snapshot()
			if first || (snap != nil && snap.Version != sent) {
				data, err := sonic.Marshal(renderBoard(snap, s.Now()))
				if err != nil {
					c.Logger().Error(err)
					return err
				}
				if err := writeEvent(c.Response(), "board", data); err != nil {
					return nil
				}
				flusher.Flush()
				if snap != nil {
					sent = snap.Version
				}
				first = false
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ch:
			case <-heartbeat.C:
				if _, err := io.WriteString(c.Response(), ": ping\n\n"); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w io.Writer, event string, data []byte) error {
	if _, err := io.WriteString(w, "event: "+event+"\ndata: "); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n\n")
	return err
}

func getOrder(s Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := s.Auth.UserIDFromAuthHeader(authHeader(c)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ent, err := s.Store.GetOrder(ctx, c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if ent == nil {
			return c.String(http.StatusNotFound, domain.ErrOrderNotFound.Error())
		}
		o, err := ent.Order()
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, boardOrder{Order: o, Situation: domain.Classify(o, s.Now())})
	}
}

func validateCommand(cmd *domain.Command) error {
	if cmd.EntityType != domain.OrderEntityType {
		return domain.ErrInvalidCommand
	}
	switch cmd.Type {
	case domain.OrderCreated:
		if cmd.EntityID == "" {
			cmd.EntityID = uuid.NewString()
		}
	case domain.OrderUpdated, domain.OrderStatusChanged, domain.OrderDeleted:
		if cmd.EntityID == "" {
			return domain.ErrInvalidCommand
		}
	default:
		return domain.ErrInvalidCommand
	}
	return nil
}

var commandDecoder = sonic.Config{
	EscapeHTML:            true,
	CopyString:            true,
	ValidateString:        true,
	DisallowUnknownFields: true,
}.Froze()

// finalizeCommands assigns idempotency keys and timestamps.
func finalizeCommands(cmds []domain.Command) []string {
	keys := make([]string, len(cmds))
	for i := range cmds {
		if cmds[i].IdempotencyKey == "" {
			cmds[i].IdempotencyKey = uuid.NewString()
		}
		cmds[i].ID = cmds[i].IdempotencyKey
		cmds[i].Timestamp = nextTimestamp()
		keys[i] = cmds[i].IdempotencyKey
	}
	return keys
}

func postCommands(s Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := s.Auth.UserIDFromAuthHeader(authHeader(c))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		body, err := io.ReadAll(io.LimitReader(c.Request().Body, postCommandMaxSize+1))
		if err != nil {
			return c.JSON(http.StatusBadRequest, postCommandResponse{Error: "invalid body"})
		}
		if len(body) > postCommandMaxSize {
			return c.JSON(http.StatusRequestEntityTooLarge, postCommandResponse{Error: "body too large"})
		}

		// Command data keeps pointing into body, so it must not be a pooled buffer.
		cmds := make([]domain.Command, 0, 4)
		if err := commandDecoder.Unmarshal(body, &cmds); err != nil {
			return c.JSON(http.StatusBadRequest, postCommandResponse{Error: "invalid body"})
		}
		if len(cmds) == 0 {
			return c.JSON(http.StatusBadRequest, postCommandResponse{Error: "no commands"})
		}
		for i := range cmds {
			if err := validateCommand(&cmds[i]); err != nil {
				return c.JSON(http.StatusBadRequest, postCommandResponse{Error: err.Error()})
			}
		}
		keys := finalizeCommands(cmds)
		ids := make([]string, len(cmds))
		for i := range cmds {
			ids[i] = cmds[i].EntityID
		}

		ctx, cancel := context.WithTimeout(c.Request().Context(), defaultEnqueueTimeout)
		defer cancel()

		fresh := cmds
		var added []string
		if s.Deduper != nil {
			results, err := s.Deduper.AddMany(ctx, userID, keys)
			if err != nil {
				for i, ok := range results {
					if ok {
						added = append(added, keys[i])
					}
				}
				s.rollback(ctx, userID, added)
				s.Logger.WithError(err).WithField("user", userID).Error("dedupe commands failed")
				return c.JSON(http.StatusInternalServerError, postCommandResponse{Error: "failed to enqueue commands"})
			}
			fresh = make([]domain.Command, 0, len(cmds))
			for i, ok := range results {
				if ok {
					fresh = append(fresh, cmds[i])
					added = append(added, keys[i])
				}
			}
		}

		resp := postCommandResponse{IdempotencyKeys: keys, OrderIDs: ids, Duplicates: len(cmds) - len(fresh)}
		if len(fresh) == 0 {
			return c.JSON(http.StatusAccepted, resp)
		}
		if err := s.Store.EnqueueCommands(ctx, userID, fresh); err != nil {
			s.rollback(ctx, userID, added)
			s.Logger.WithError(err).WithField("user", userID).Error("enqueue commands failed")
			return c.JSON(http.StatusInternalServerError, postCommandResponse{Error: "failed to enqueue commands"})
		}
		return c.JSON(http.StatusAccepted, resp)
	}
}

func (s Server) rollback(ctx context.Context, userID string, keys []string) {
	if s.Deduper == nil || len(keys) == 0 {
		return
	}
	if err := s.Deduper.Remove(ctx, userID, keys...); err != nil {
		s.Logger.WithError(err).WithField("user", userID).Warn("unable to release idempotency keys")
	}
}

func getSellerStats(s Server) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), s.Logger, "/api/sellers/:id/stats")
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		if _, authErr := s.Auth.UserIDFromAuthHeader(authHeader(c)); authErr != nil {
			metrics.SetErrorStage("auth")
			return c.String(http.StatusUnauthorized, authErr.Error())
		}
		sellerID := c.Param("id")

		fetchStart := time.Now()
		orders, err := s.Catalog.ListSellerOrders(ctx, sellerID)
		if err != nil {
			metrics.SetErrorStage("orders")
			return c.String(http.StatusInternalServerError, err.Error())
		}
		products, err := s.Catalog.ListProducts(ctx)
		if err != nil {
			metrics.SetErrorStage("products")
			return c.String(http.StatusInternalServerError, err.Error())
		}
		categories, err := s.Catalog.ListCategories(ctx)
		if err != nil {
			metrics.SetErrorStage("categories")
			return c.String(http.StatusInternalServerError, err.Error())
		}
		metrics.ObserveFetch(time.Since(fetchStart))

		st := stats.Compute(sellerID, orders, products, categories)
		if emp, empErr := s.Store.GetEmployee(ctx, sellerID); empErr != nil {
			s.Logger.WithError(empErr).WithField("seller", sellerID).Warn("unable to load seller")
		} else if emp != nil {
			st.SellerName = emp.Name
		}
		metrics.SetItemsReturned(st.Totals.Orders)

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, st)
		metrics.ObserveEncode(time.Since(encodeStart))
		return err
	}
}
