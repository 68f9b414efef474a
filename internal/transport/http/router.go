package transporthttp

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"fxlink/internal/accountsync"
	"fxlink/internal/conn"
	"fxlink/internal/config"
	"fxlink/internal/execution"
	"fxlink/internal/gateway/exchange"
	"fxlink/internal/journal"
	"fxlink/internal/positions"
)

// AccountReader serves the last synced account snapshot and working
// orders.
type AccountReader interface {
	Snapshot(accountID string) (exchange.AccountSnapshot, bool)
	Orders(accountID string) []exchange.Order
}

// Router exposes the connection, trading and sync surfaces.
type Router struct {
	Conns    *conn.Manager
	Exec     *execution.Service
	Syncs    *accountsync.Service
	Tracker  *positions.Tracker
	Journal  *journal.Store
	Accounts AccountReader
}

// Register mounts the API routes on the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/connections", r.handleConnections)
	group.GET("/connections/:id", r.handleConnection)
	group.POST("/connections/:id/connect", r.handleConnect)
	group.POST("/connections/:id/disconnect", r.handleDisconnect)

	group.GET("/positions", r.handlePositions)
	group.GET("/positions/:id", r.handlePosition)
	group.POST("/positions/:id/close", r.handleClose)
	group.PATCH("/positions/:id", r.handleModify)

	group.POST("/trades", r.handleTrade)
	group.POST("/trades/preview", r.handleTradePreview)

	if r.Accounts != nil {
		group.GET("/accounts/:id", r.handleAccount)
		group.GET("/accounts/:id/orders", r.handleAccountOrders)
	}

	group.GET("/sync/settings", r.handleSyncSettings)
	group.PUT("/sync/settings", r.handleUpdateSyncSettings)
	group.GET("/sync/:id", r.handleSyncStatus)
	group.POST("/sync/:id", r.handleTriggerSync)

	group.POST("/app/foreground", r.handleForeground)
	group.POST("/app/account-switch", r.handleAccountSwitch)

	if r.Journal != nil {
		group.GET("/journal/executions", r.handleJournalExecutions)
		group.GET("/journal/actions", r.handleJournalActions)
	}
}

type connectionView struct {
	AccountID string `json:"account_id"`
	State     string `json:"state"`
	Attempt   uint   `json:"attempt,omitempty"`
	Error     string `json:"error,omitempty"`
	ChangedAt string `json:"changed_at"`
}

func connectionToView(st conn.Status) connectionView {
	view := connectionView{
		AccountID: st.AccountID,
		State:     st.State.String(),
		Attempt:   st.Attempt,
		ChangedAt: st.ChangedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if st.Err != nil {
		view.Error = st.Err.Error()
	}
	return view
}

func (r *Router) handleConnections(c *gin.Context) {
	ids := r.Conns.ConnectedAccounts()
	views := make([]connectionView, 0, len(ids))
	for _, id := range ids {
		views = append(views, connectionToView(r.Conns.Status(id)))
	}
	c.JSON(http.StatusOK, gin.H{"connections": views})
}

func (r *Router) handleConnection(c *gin.Context) {
	id := c.Param("id")
	c.JSON(http.StatusOK, connectionToView(r.Conns.Status(id)))
}

func (r *Router) handleConnect(c *gin.Context) {
	id := c.Param("id")
	var body struct {
		Secret string `json:"secret"`
	}
	_ = c.ShouldBindJSON(&body)
	if err := r.Conns.ConnectToAccount(c.Request.Context(), conn.Account{ID: id, Secret: body.Secret}); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, connectionToView(r.Conns.Status(id)))
}

func (r *Router) handleDisconnect(c *gin.Context) {
	id := c.Param("id")
	r.Conns.DisconnectFromAccount(id)
	c.JSON(http.StatusOK, connectionToView(r.Conns.Status(id)))
}

func (r *Router) handlePositions(c *gin.Context) {
	list := r.Tracker.Snapshot()
	if account := strings.TrimSpace(c.Query("account_id")); account != "" {
		filtered := list[:0]
		for _, p := range list {
			if p.AccountID == account {
				filtered = append(filtered, p)
			}
		}
		list = filtered
	}
	c.JSON(http.StatusOK, gin.H{"positions": list, "count": len(list)})
}

func (r *Router) handlePosition(c *gin.Context) {
	pos, ok := r.Tracker.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "position not found"})
		return
	}
	c.JSON(http.StatusOK, pos)
}

type tradeBody struct {
	AccountID  string  `json:"account_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Volume     float64 `json:"volume"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Comment    string  `json:"comment"`
}

func (r *Router) handleTrade(c *gin.Context) {
	var body tradeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(body.AccountID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required"})
		return
	}
	req := exchange.TradeRequest{
		Symbol:     body.Symbol,
		Side:       exchange.Side(strings.ToLower(body.Side)),
		Volume:     body.Volume,
		StopLoss:   body.StopLoss,
		TakeProfit: body.TakeProfit,
		Comment:    body.Comment,
	}
	result, err := r.Exec.ExecuteTrade(c.Request.Context(), body.AccountID, req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (r *Router) handleTradePreview(c *gin.Context) {
	var body struct {
		AccountID      string  `json:"account_id"`
		Symbol         string  `json:"symbol"`
		Side           string  `json:"side"`
		Volume         float64 `json:"volume"`
		StopLossPips   float64 `json:"stop_loss_pips"`
		TakeProfitPips float64 `json:"take_profit_pips"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(body.AccountID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required"})
		return
	}
	preview, err := r.Exec.PreviewTrade(body.AccountID, body.Symbol,
		exchange.Side(strings.ToLower(body.Side)), body.Volume, body.StopLossPips, body.TakeProfitPips)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (r *Router) handleClose(c *gin.Context) {
	var body struct {
		AccountID string `json:"account_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.AccountID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required"})
		return
	}
	if err := r.Exec.ClosePosition(c.Request.Context(), body.AccountID, c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

func (r *Router) handleModify(c *gin.Context) {
	var body struct {
		AccountID  string   `json:"account_id"`
		StopLoss   *float64 `json:"stop_loss"`
		TakeProfit *float64 `json:"take_profit"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.AccountID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required"})
		return
	}
	if body.StopLoss == nil && body.TakeProfit == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "stop_loss or take_profit is required"})
		return
	}
	if err := r.Exec.ModifyPosition(c.Request.Context(), body.AccountID, c.Param("id"), body.StopLoss, body.TakeProfit); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "modified"})
}

func (r *Router) handleAccount(c *gin.Context) {
	snap, ok := r.Accounts.Snapshot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not synced yet"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (r *Router) handleAccountOrders(c *gin.Context) {
	orders := r.Accounts.Orders(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

type syncStatusView struct {
	AccountID   string  `json:"account_id"`
	State       string  `json:"state"`
	Progress    float64 `json:"progress"`
	CompletedAt string  `json:"completed_at,omitempty"`
	Error       string  `json:"error,omitempty"`
	SecondsAgo  float64 `json:"last_sync_seconds_ago,omitempty"`
}

func (r *Router) handleSyncStatus(c *gin.Context) {
	id := c.Param("id")
	st := r.Syncs.Status(id)
	view := syncStatusView{
		AccountID: st.AccountID,
		State:     string(st.State),
		Progress:  st.Progress,
	}
	if !st.CompletedAt.IsZero() {
		view.CompletedAt = st.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	if st.Err != nil {
		view.Error = st.Err.Error()
	}
	if since, ok := r.Syncs.TimeSinceLastSync(id); ok {
		view.SecondsAgo = since.Seconds()
	}
	c.JSON(http.StatusOK, view)
}

func (r *Router) handleTriggerSync(c *gin.Context) {
	id := c.Param("id")
	r.Syncs.TriggerSync(id, "manual")
	c.JSON(http.StatusAccepted, gin.H{"status": "sync triggered"})
}

func (r *Router) handleSyncSettings(c *gin.Context) {
	s := r.Syncs.Settings()
	c.JSON(http.StatusOK, gin.H{
		"interval":          s.Interval,
		"auto_sync":         s.AutoSync,
		"on_foreground":     s.OnForeground,
		"on_account_switch": s.OnAccountSwitch,
		"positions_only":    s.PositionsOnly,
	})
}

func (r *Router) handleUpdateSyncSettings(c *gin.Context) {
	var body struct {
		Interval        string `json:"interval"`
		AutoSync        *bool  `json:"auto_sync"`
		OnForeground    *bool  `json:"on_foreground"`
		OnAccountSwitch *bool  `json:"on_account_switch"`
		PositionsOnly   *bool  `json:"positions_only"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	settings := r.Syncs.Settings()
	if body.Interval != "" {
		if _, ok := config.ParseSyncInterval(body.Interval); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "interval must be one of 30s, 1m, 5m, 15m"})
			return
		}
		settings.Interval = body.Interval
	}
	if body.AutoSync != nil {
		settings.AutoSync = *body.AutoSync
	}
	if body.OnForeground != nil {
		settings.OnForeground = *body.OnForeground
	}
	if body.OnAccountSwitch != nil {
		settings.OnAccountSwitch = *body.OnAccountSwitch
	}
	if body.PositionsOnly != nil {
		settings.PositionsOnly = *body.PositionsOnly
	}
	r.Syncs.UpdateSettings(settings)
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (r *Router) handleForeground(c *gin.Context) {
	r.Syncs.NotifyForeground()
	c.JSON(http.StatusAccepted, gin.H{"status": "ok"})
}

func (r *Router) handleAccountSwitch(c *gin.Context) {
	var body struct {
		AccountID string `json:"account_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.AccountID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required"})
		return
	}
	r.Syncs.NotifyAccountSwitch(body.AccountID)
	c.JSON(http.StatusAccepted, gin.H{"status": "ok"})
}

func (r *Router) handleJournalExecutions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := r.Journal.RecentExecutions(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": records})
}

func (r *Router) handleJournalActions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := r.Journal.RecentActions(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": records})
}

// statusFor maps error kinds to HTTP statuses. Typed errors carry the
// kind; string matching is never used.
func statusFor(err error) int {
	var validation *exchange.ValidationError
	var margin *exchange.MarginError
	var connErr *exchange.ConnectionError
	var gateway *exchange.GatewayError
	var syncErr *exchange.SyncError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &margin):
		return http.StatusUnprocessableEntity
	case errors.Is(err, exchange.ErrNotConnected), errors.Is(err, exchange.ErrNoQuote),
		errors.Is(err, exchange.ErrNoSnapshot):
		return http.StatusConflict
	case errors.As(err, &connErr):
		switch connErr.Kind {
		case exchange.ConnTimeout:
			return http.StatusGatewayTimeout
		case exchange.ConnAuthFailed, exchange.ConnNoAccessToken:
			return http.StatusUnauthorized
		}
		return http.StatusBadGateway
	case errors.As(err, &gateway):
		return http.StatusBadGateway
	case errors.As(err, &syncErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
