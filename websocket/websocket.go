// Package websocket 把聊天核心的訂閱推送到瀏覽器。
// 每條連線各自持有訂閱，不需要全域的廣播中心：跨連線與跨實例的同步由儲存層的變更通知負責。
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"go-chat/roomsync/chat"
	"go-chat/roomsync/models"
	"go-chat/roomsync/utils"
)

const (
	// 將訊息寫入到遠端對等點的最長時間
	writeWait = 10 * time.Second

	// 允許從遠端對等點讀取下一個 pong 訊息的最長時間。
	pongWait = 60 * time.Second

	// 發送 ping 訊息給遠端對等點的週期。
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	sendBuffer = 64
)

// Limiter 限制每位使用者發送訊息的頻率
type Limiter interface {
	Allow(userID string) bool
}

// Server 處理 /ws 底下的連線
type Server struct {
	svc      *chat.Service
	limiter  Limiter
	upgrader websocket.Upgrader
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer 建立 WebSocket 伺服器。allowedOrigins 為空時允許所有來源。
func NewServer(svc *chat.Service, limiter Limiter, allowedOrigins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		svc:     svc,
		limiter: limiter,
		log:     logger,
		ctx:     ctx,
		cancel:  cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if len(origins) == 0 || origin == "" {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
	}
}

// Shutdown 關閉所有進行中的連線
func (s *Server) Shutdown() {
	s.cancel()
}

// HandleRooms 推送使用者的聊天室列表
func (s *Server) HandleRooms(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("failed to upgrade to websocket", "err", err)
		return
	}
	sess := s.newSession(conn, userID, "")
	defer sess.close()

	feed, err := s.svc.ListRoomsForParticipant(sess.ctx, userID)
	if err != nil {
		sess.fail(err)
		sess.run()
		return
	}
	sess.goPump(func() {
		defer feed.Close()
		for {
			select {
			case b, ok := <-feed.C:
				if !ok {
					return
				}
				if b.Err != nil {
					sess.fail(b.Err)
					return
				}
				sess.enqueue(roomsFrame{Type: "rooms", Rooms: b.Items, Removed: b.Removed})
			case <-sess.ctx.Done():
				return
			}
		}
	})
	sess.run()
}

// HandleRoom 推送單一聊天室的訊息與狀態，並接受發送指令
func (s *Server) HandleRoom(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	roomID := mux.Vars(r)["id"]
	if _, err := s.svc.RequireParticipant(r.Context(), roomID, userID); err != nil {
		switch {
		case errors.Is(err, chat.ErrRoomNotFound):
			http.Error(w, "Chat room not found", http.StatusNotFound)
		case errors.Is(err, chat.ErrNotParticipant):
			http.Error(w, "Not a participant of this room", http.StatusForbidden)
		default:
			s.log.Error("failed to load room", "room", roomID, "err", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("failed to upgrade to websocket", "err", err)
		return
	}
	sess := s.newSession(conn, userID, roomID)
	defer sess.close()
	sess.outbox = chat.NewOutbox(s.svc, userID)

	if err := s.svc.OnRoomOpened(sess.ctx, roomID, userID); err != nil {
		sess.log.Warn("failed to reset unread count", "err", err)
	}

	messages, err := s.svc.SubscribeMessages(sess.ctx, roomID)
	if err != nil {
		sess.fail(err)
		sess.run()
		return
	}
	room, err := s.svc.WatchRoom(sess.ctx, roomID)
	if err != nil {
		messages.Close()
		sess.fail(err)
		sess.run()
		return
	}

	sess.goPump(func() {
		defer messages.Close()
		for {
			select {
			case b, ok := <-messages.C:
				if !ok {
					return
				}
				if b.Err != nil {
					sess.fail(b.Err)
					return
				}
				if !sess.admit(b.Changed) {
					sess.leave()
					return
				}
				sess.enqueue(messagesFrame{Type: "messages", Messages: b.Items, Changed: b.Changed})
			case <-sess.ctx.Done():
				return
			}
		}
	})
	sess.goPump(func() {
		defer room.Close()
		for {
			select {
			case ev, ok := <-room.C:
				if !ok {
					return
				}
				switch {
				case ev.Err != nil:
					sess.fail(ev.Err)
					return
				case ev.Deleted:
					sess.enqueueFinal(roomClosedFrame{Type: "room_deleted", RoomID: roomID})
					return
				case !ev.Room.HasParticipant(userID):
					sess.leave()
					return
				default:
					current := ev.Room
					sess.enqueue(roomFrame{Type: "room", Room: &current})
					// 發送者的增量可能晚於訊息本身抵達，正在看的人仍需歸零
					if current.UnreadFor(userID) > 0 {
						sess.markRead()
					}
				}
			case <-sess.ctx.Done():
				return
			}
		}
	})
	sess.run()
}

// fromOthers 回傳批次中是否有別人送出的訊息
func fromOthers(msgs []models.Message, userID string) bool {
	for _, m := range msgs {
		if m.SenderID != userID && !m.IsSystem() {
			return true
		}
	}
	return false
}

func hasSystem(msgs []models.Message) bool {
	for _, m := range msgs {
		if m.IsSystem() {
			return true
		}
	}
	return false
}

// outgoing 是寫入佇列中的一個 frame；final 為 true 時寫完就關閉連線
type outgoing struct {
	payload any
	final   bool
}

// session 是一條連線的狀態。只有 writePump 會寫入 conn。
type session struct {
	srv    *Server
	conn   *websocket.Conn
	userID string
	roomID string
	outbox *chat.Outbox
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	send   chan outgoing
	pumps  sync.WaitGroup
	left   sync.Once
}

func (s *Server) newSession(conn *websocket.Conn, userID, roomID string) *session {
	ctx, cancel := context.WithCancel(s.ctx)
	return &session{
		srv:    s,
		conn:   conn,
		userID: userID,
		roomID: roomID,
		log:    s.log.With("user", userID, "room", roomID),
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan outgoing, sendBuffer),
	}
}

func (c *session) goPump(f func()) {
	c.pumps.Add(1)
	go func() {
		defer c.pumps.Done()
		f()
	}()
}

// run 啟動 writePump 並在目前的 goroutine 執行 readPump，直到連線結束
func (c *session) run() {
	go c.writePump()
	c.readPump()
}

func (c *session) close() {
	c.cancel()
	c.pumps.Wait()
	c.conn.Close()
	c.log.Debug("websocket session closed")
}

func (c *session) enqueue(payload any) {
	select {
	case c.send <- outgoing{payload: payload}:
	case <-c.ctx.Done():
	}
}

func (c *session) enqueueFinal(payload any) {
	select {
	case c.send <- outgoing{payload: payload, final: true}:
	case <-c.ctx.Done():
	}
}

// fail 送出一次錯誤後關閉連線，由用戶端決定是否重連
func (c *session) fail(err error) {
	c.log.Warn("subscription failed", "err", err)
	c.enqueueFinal(errorFrame{Type: "error", Error: err.Error()})
}

// markRead 歸零自己的未讀數；使用者已不是成員時回傳 false
func (c *session) markRead() bool {
	err := c.srv.svc.OnRoomOpened(c.ctx, c.roomID, c.userID)
	if errors.Is(err, chat.ErrNotParticipant) {
		return false
	}
	if err != nil {
		c.log.Warn("failed to reset unread count", "err", err)
	}
	return true
}

// admit 在轉送訊息批次前確認使用者仍是成員。
// 別人的訊息順便歸零未讀數（條件寫入本身就是成員檢查），系統訊息則重新讀取聊天室。
func (c *session) admit(changed []models.Message) bool {
	switch {
	case fromOthers(changed, c.userID):
		return c.markRead()
	case hasSystem(changed):
		_, err := c.srv.svc.RequireParticipant(c.ctx, c.roomID, c.userID)
		return !errors.Is(err, chat.ErrNotParticipant)
	}
	return true
}

// leave 通知用戶端已不是成員並結束連線，只送一次
func (c *session) leave() {
	c.left.Do(func() {
		c.log.Info("participant left, closing room stream")
		c.enqueueFinal(roomClosedFrame{Type: "left", RoomID: c.roomID})
	})
}

// 讀取用戶傳來的指令
func (c *session) readPump() {
	defer c.cancel()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, p, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || c.ctx.Err() != nil {
				c.log.Debug("client disconnected")
			} else {
				c.log.Info("error reading message", "err", err)
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(p, &cmd); err != nil {
			c.enqueue(errorFrame{Type: "error", Error: "invalid frame"})
			continue
		}
		c.handle(cmd)
	}
}

func (c *session) handle(cmd command) {
	if c.outbox == nil {
		c.enqueue(errorFrame{Type: "error", Error: "read-only stream"})
		return
	}
	var (
		item chat.OutboundMessage
		err  error
	)
	switch cmd.Type {
	case "send":
		if c.srv.limiter != nil && !c.srv.limiter.Allow(c.userID) {
			c.enqueue(errorFrame{Type: "error", LocalID: cmd.LocalID, Error: "too many messages"})
			return
		}
		item, err = c.outbox.Send(c.ctx, c.roomID, cmd.LocalID, cmd.Content)
		if errors.Is(err, chat.ErrEmptyMessage) {
			c.enqueue(errorFrame{Type: "error", LocalID: cmd.LocalID, Error: err.Error()})
			return
		}
	case "retry":
		item, err = c.outbox.Retry(c.ctx, cmd.LocalID)
	case "discard":
		if err := c.outbox.Discard(cmd.LocalID); err != nil {
			c.enqueue(errorFrame{Type: "error", LocalID: cmd.LocalID, Error: err.Error()})
			return
		}
		c.enqueue(discardedFrame{Type: "discarded", LocalID: cmd.LocalID})
		return
	case "read":
		if !c.markRead() {
			c.leave()
		}
		return
	default:
		c.enqueue(errorFrame{Type: "error", Error: "unknown frame type " + cmd.Type})
		return
	}
	if errors.Is(err, chat.ErrUnknownLocalID) {
		c.enqueue(errorFrame{Type: "error", LocalID: cmd.LocalID, Error: err.Error()})
		return
	}
	if err != nil {
		c.log.Info("send failed", "local", cmd.LocalID, "err", err)
	}
	c.enqueue(outboxFrame{Type: "outbox", Item: item})
}

// 將佇列中的 frame 寫給前端，並定時 ping 保持連線
func (c *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.conn.Close()
	}()
	for {
		select {
		case out := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(out.payload); err != nil {
				c.log.Info("error writing message", "err", err)
				return
			}
			if out.final {
				c.writeClose()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			c.writeClose()
			return
		}
	}
}

func (c *session) writeClose() {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
