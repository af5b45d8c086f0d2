package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/dragodark/peerchat/internal/auth"
	"github.com/dragodark/peerchat/internal/relay"
)

// NewServer builds the relay's HTTP server: the REST API plus the websocket
// endpoint.
func NewServer(addr string, handlers *Handlers, authService *auth.Service, hub *relay.Hub, logger *zerolog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), LoggerMiddleware(logger))

	engine.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	engine.POST("/api/auth/register", handlers.Register)
	engine.POST("/api/auth/login", handlers.Login)

	authorized := engine.Group("/api", AuthMiddleware(authService, logger))
	{
		authorized.GET("/friends", handlers.ListFriends)
		authorized.POST("/friends/add", handlers.AddFriend)
		authorized.POST("/friends/accept", handlers.AcceptFriend)
		authorized.POST("/friends/reject", handlers.RejectFriend)
		authorized.POST("/friends/delete", handlers.DeleteFriend)

		authorized.GET("/chats", handlers.ListChats)
		authorized.POST("/chats/create", handlers.CreateChat)
		authorized.DELETE("/chats/delete/:id", handlers.DeleteChat)

		authorized.POST("/chats/group/add-member", handlers.AddGroupMember)
		authorized.POST("/chats/group/remove-member", handlers.RemoveGroupMember)
		authorized.POST("/chats/group/rename", handlers.RenameGroup)
		authorized.POST("/chats/group/transfer-admin", handlers.TransferAdmin)
		authorized.DELETE("/chats/group/delete/:id", handlers.DeleteGroup)
	}

	// The websocket endpoint bypasses gin: the upgrade needs to hijack the
	// connection, which gin's response writer does not allow. Its token
	// travels in-band during the handshake, so no middleware is lost.
	mux := http.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, authService, logger))
	mux.Handle("/", engine)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
