package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"swap-quote/internal/core"
	"swap-quote/internal/quote"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// InputMessage is one (from, to, amount) tuple sent by a UI surface.
// Amount is a string to keep decimal precision across the wire.
type InputMessage struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type QuoteMessage struct {
	From        string    `json:"from"`
	To          string    `json:"to"`
	FromAmount  string    `json:"fromAmount"`
	ToAmount    string    `json:"toAmount"`
	RequestedAt time.Time `json:"requestedAt"`
	ValidUntil  time.Time `json:"validUntil"`
}

type StateMessage struct {
	State     string        `json:"state"`
	Token     uint64        `json:"token"`
	Quote     *QuoteMessage `json:"quote,omitempty"`
	ErrorKind string        `json:"errorKind,omitempty"`
	Message   string        `json:"message,omitempty"`
	MinAmount string        `json:"minAmount,omitempty"`
	Stale     bool          `json:"stale,omitempty"`
}

// Handler upgrades each connection to a quote session: inbound
// messages feed the controller's input stream, the controller's state
// stream is pushed back. One controller per connection keeps the
// at-most-one-in-flight guarantee per logical session.
type Handler struct {
	quoter   quote.Quoter
	debounce time.Duration
	upgrader websocket.Upgrader
}

func NewHandler(quoter quote.Quoter, debounce time.Duration) *Handler {
	return &Handler{
		quoter:   quoter,
		debounce: debounce,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The portal UI and this service share an origin; the
			// reverse proxy enforces it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("level=WARN event=ws_upgrade_failed err=%q", err.Error())
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ctrl := quote.NewController(h.quoter, quote.ControllerOptions{Debounce: h.debounce})
	go ctrl.Run(ctx)

	go h.readLoop(cancel, conn, ctrl)
	h.writeLoop(ctx, conn, ctrl)
}

func (h *Handler) readLoop(cancel context.CancelFunc, conn *websocket.Conn, ctrl *quote.Controller) {
	defer cancel()
	for {
		var msg InputMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("level=WARN event=ws_read_failed err=%q", err.Error())
			}
			return
		}
		amount, err := decimal.NewFromString(msg.Amount)
		if err != nil {
			// Unparseable amounts behave like cleared input.
			amount = decimal.Zero
		}
		ctrl.SetInput(quote.Input{From: msg.From, To: msg.To, Amount: amount})
	}
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, ctrl *quote.Controller) {
	states, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()
	pings := time.NewTicker(pingPeriod)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case st := <-states:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(encodeState(st)); err != nil {
				return
			}
		case <-pings.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func encodeState(st quote.State) StateMessage {
	msg := StateMessage{
		State:     string(st.Kind),
		Token:     st.Token,
		ErrorKind: string(st.ErrorKind),
		Message:   st.Message,
		Stale:     st.Stale,
	}
	if st.Quote != nil {
		msg.Quote = encodeQuote(*st.Quote)
	}
	if st.MinAmount != nil {
		msg.MinAmount = st.MinAmount.String()
	}
	return msg
}

func encodeQuote(q core.Quote) *QuoteMessage {
	return &QuoteMessage{
		From:        q.From,
		To:          q.To,
		FromAmount:  q.FromAmount.String(),
		ToAmount:    q.ToAmount.String(),
		RequestedAt: q.RequestedAt,
		ValidUntil:  q.ValidUntil,
	}
}
