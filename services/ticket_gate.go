package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
)

const (
	TicketStatusNotApplicable = "N/A"
	TicketStatusError         = "Error"
	TicketStatusLoading       = "Loading"
)

type TicketsAPI interface {
	GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error)
}

type GateState struct {
	TicketID *int64 `json:"ticketId,omitempty"`
	Allowed  bool   `json:"allowed"`
	Status   string `json:"status"`
	Notice   string `json:"notice,omitempty"`
}

// TicketGate decides whether messages may be sent on a ticket-backed
// conversation. It is evaluated once per conversation-view mount.
type TicketGate struct {
	api     TicketsAPI
	timeout time.Duration
	logger  *log.Logger

	mu       sync.RWMutex
	ticketID *int64
	allowed  bool
	status   string
	notice   string
}

func NewTicketGate(api TicketsAPI, timeout time.Duration) *TicketGate {
	return &TicketGate{
		api:     api,
		timeout: timeout,
		logger:  log.New("ticket-gate"),
		allowed: true,
		status:  TicketStatusNotApplicable,
	}
}

// Load evaluates the gate for ticketID. Without a ticket sending is allowed.
// Any fetch or shape failure denies sending with status "Error".
func (g *TicketGate) Load(ctx context.Context, ticketID *int64) GateState {
	if ticketID == nil {
		g.set(nil, true, TicketStatusNotApplicable, "")
		return g.State()
	}
	id := *ticketID
	g.set(&id, false, TicketStatusLoading, "")

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	ticket, err := g.api.GetTicket(ctx, id)
	if err != nil {
		g.logger.Warnf("ticket %d status fetch failed: %v", id, err)
		g.set(&id, false, TicketStatusError, "Could not load the ticket status. Messages are disabled for this conversation.")
		return g.State()
	}
	status, ok := ticket.StatusString()
	if !ok {
		g.logger.Warnf("ticket %d has no usable status field", id)
		g.set(&id, false, TicketStatusError, "The ticket status is unavailable. Messages are disabled for this conversation.")
		return g.State()
	}
	g.Apply(status)
	return g.State()
}

// Apply sets the gate from a known ticket status.
func (g *TicketGate) Apply(status string) {
	allowed := IsOpenStatus(status)
	notice := ""
	if !allowed {
		notice = "This ticket is " + status + ". Messages can't be sent."
	}
	g.mu.Lock()
	g.allowed = allowed
	g.status = status
	g.notice = notice
	g.mu.Unlock()
}

func (g *TicketGate) Allowed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.allowed
}

func (g *TicketGate) Status() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

func (g *TicketGate) TicketID() *int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ticketID
}

func (g *TicketGate) State() GateState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return GateState{TicketID: g.ticketID, Allowed: g.allowed, Status: g.status, Notice: g.notice}
}

func (g *TicketGate) set(ticketID *int64, allowed bool, status, notice string) {
	g.mu.Lock()
	g.ticketID = ticketID
	g.allowed = allowed
	g.status = status
	g.notice = notice
	g.mu.Unlock()
}

func IsOpenStatus(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), models.TicketStatusOpen)
}
