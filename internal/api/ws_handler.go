package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"portfolioPro/internal/auth"
	"portfolioPro/internal/worker"
)

const (
	wsAuthTimeout  = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 5 * time.Second
)

// WsHandler 在首条消息完成鉴权后，把 user_notify:{id} 上的通知转发给客户端。
type WsHandler struct {
	redis          redis.UniversalClient
	authService    *auth.AuthService
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// NewWsHandler 构造 WebSocket 处理器；allowedOrigins 为空时只允许同源。
func NewWsHandler(redisClient redis.UniversalClient, authService *auth.AuthService, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	h := &WsHandler{
		redis:          redisClient,
		authService:    authService,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *WsHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.allowedOrigins) > 0 {
		return slices.Contains(h.allowedOrigins, origin)
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

type wsAuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// wsAuthError 携带关闭连接时返回给客户端的原因。
type wsAuthError struct {
	reason string
	err    error
}

func (e *wsAuthError) Error() string { return e.reason + ": " + e.err.Error() }
func (e *wsAuthError) Unwrap() error { return e.err }

// authenticate 校验首条消息中的 access token，改密未完成的账号不允许订阅。
func (h *WsHandler) authenticate(message []byte) (*auth.TokenClaims, error) {
	var msg wsAuthMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, &wsAuthError{"invalid auth payload", err}
	}
	if msg.Type != "auth" || msg.Token == "" {
		return nil, &wsAuthError{"auth required", errors.New("missing auth message")}
	}
	claims, err := h.authService.ValidateToken(msg.Token)
	if err != nil {
		return nil, &wsAuthError{"unauthorized", err}
	}
	if claims.TokenType != auth.TokenTypeAccess {
		return nil, &wsAuthError{"access token required", fmt.Errorf("token type %q", claims.TokenType)}
	}
	if claims.MustChangePassword {
		return nil, &wsAuthError{"password change required", errors.New("password change required")}
	}
	return claims, nil
}

// HandleConnection 升级连接，等待鉴权后启动订阅循环。
func (h *WsHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	log := h.logger.With(slog.String("client_ip", c.ClientIP()))

	_ = conn.SetReadDeadline(time.Now().Add(wsAuthTimeout))
	_, first, err := conn.ReadMessage()
	if err != nil {
		log.Info("websocket closed before auth", slog.Any("error", err))
		return
	}
	claims, err := h.authenticate(first)
	if err != nil {
		reason := "unauthorized"
		var ae *wsAuthError
		if errors.As(err, &ae) {
			reason = ae.reason
		}
		writeClose(conn, websocket.ClosePolicyViolation, reason)
		log.Warn("websocket authentication failed", slog.Any("error", err))
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	log = log.With(slog.Uint64("user_id", uint64(claims.UserID)))
	log.Info("websocket authenticated")

	errCh := make(chan error, 2)
	go h.drain(ctx, conn, errCh)
	go h.forward(ctx, conn, claims.UserID, errCh, log)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		cancel()
		log.Info("websocket connection closed", slog.Any("error", err))
	}
}

// drain 读取并丢弃客户端消息，用于感知断开。
func (h *WsHandler) drain(ctx context.Context, conn *websocket.Conn, errCh chan<- error) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			select {
			case errCh <- fmt.Errorf("read message: %w", err):
			case <-ctx.Done():
			}
			return
		}
	}
}

func (h *WsHandler) forward(ctx context.Context, conn *websocket.Conn, userID uint, errCh chan<- error, log *slog.Logger) {
	channel := worker.NotifyChannel(userID)
	pubsub := h.redis.Subscribe(ctx, channel)
	defer pubsub.Close()
	log.Info("subscribed to redis channel", slog.String("channel", channel))

	ch := pubsub.Channel()
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	fail := func(err error) {
		select {
		case errCh <- err:
		case <-ctx.Done():
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				fail(errors.New("pubsub channel closed"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				fail(fmt.Errorf("write message: %w", err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteTimeout)); err != nil {
				fail(fmt.Errorf("write ping: %w", err))
				return
			}
		}
	}
}

func writeClose(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(wsWriteTimeout))
}
