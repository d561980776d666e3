package realtime

import (
	"net/http"
	"strings"
	"time"

	"pairchat/pkg/logger"
	"pairchat/pkg/response"
	"pairchat/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许跨域
	},
}

// Handler 中继的 WebSocket 接入处理器
type Handler struct {
	hub          *Hub
	tokens       *token.Service
	pingInterval time.Duration
}

// NewHandler 创建接入处理器
func NewHandler(hub *Hub, tokens *token.Service, pingInterval time.Duration) *Handler {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Handler{hub: hub, tokens: tokens, pingInterval: pingInterval}
}

// ServeWS Gin路由处理函数
// 握手令牌取自 query 或 Sec-WebSocket-Protocol 头；
// collections 参数限定客户端关心的集合，缺省为全部
func (h *Handler) ServeWS(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		tokenString = strings.TrimPrefix(c.GetHeader("Sec-WebSocket-Protocol"), "Bearer ")
	}
	if tokenString == "" {
		response.Unauthorized(c, "缺少token")
		return
	}

	clientID, err := h.tokens.Validate(tokenString)
	if err != nil {
		response.Unauthorized(c, "token无效或已过期")
		return
	}

	collections := make(map[string]bool)
	if raw := c.Query("collections"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				collections[name] = true
			}
		}
	}

	// 回显子协议，避免客户端提示 "Server sent no subprotocol"
	respHeader := http.Header{}
	if protocol := c.GetHeader("Sec-WebSocket-Protocol"); protocol != "" {
		respHeader.Set("Sec-WebSocket-Protocol", protocol)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, respHeader)
	if err != nil {
		return
	}

	cl := &client{
		id:          clientID,
		conn:        conn,
		send:        make(chan []byte, 256),
		collections: collections,
	}
	h.hub.add(cl)
	logger.Info("中继客户端接入",
		zap.String("client_id", clientID),
		zap.Int("collections", len(collections)),
	)

	// 写协程 + 定时ping心跳
	go func() {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-cl.send:
				if !ok {
					_ = conn.Close()
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	// 读循环只用于感知断开，入站数据直接丢弃
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.remove(cl)
	_ = conn.Close()
	logger.Info("中继客户端断开", zap.String("client_id", clientID))
}
