package rest

import (
	"github.com/gin-gonic/gin"
	mw "github.com/kasuganosora/escaperoom/server/middleware"
	"github.com/kasuganosora/escaperoom/server/model"
)

// Handlers bundles the REST handlers for Mount.
type Handlers struct {
	Auth     *AuthHandler
	Games    *GameHandler
	Catalog  *CatalogHandler
	Requests *RequestHandler
	Players  *PlayerHandler
	Actions  *ActionHandler
}

// Groups are the mounted route groups, for adding non-REST routes such as
// streams.
type Groups struct {
	Admin  *gin.RouterGroup // /api/games/:id for the owning admin
	Player *gin.RouterGroup // /api/games/:id for players
}

// Mount registers every REST route under api. auth authenticates a request;
// adminOnly runs in front of every admin route (e.g. an IP allowlist).
func Mount(api *gin.RouterGroup, h Handlers, auth gin.HandlerFunc, adminOnly ...gin.HandlerFunc) Groups {
	authG := api.Group("/auth")
	authG.POST("/anonymous", h.Auth.Anonymous)
	authG.POST("/login", chain(adminOnly, h.Auth.Login)...)
	authG.POST("/logout", auth, h.Auth.Logout)
	authG.GET("/me", auth, h.Auth.Me)

	asAdmin := chain([]gin.HandlerFunc{auth, mw.RequireRole(mw.RoleAdmin)}, adminOnly...)
	gamesG := api.Group("/games")
	gamesG.POST("", chain(asAdmin, h.Games.Create)...)
	gamesG.GET("", chain(asAdmin, h.Games.List)...)

	adminG := api.Group("/games/:id", chain(asAdmin, h.Games.OwnGame())...)
	adminG.GET("", h.Games.Get)
	adminG.POST("/state", h.Games.SetState)
	adminG.PUT("/duration", h.Games.SetDuration)

	adminG.POST("/characters", h.Catalog.CreateCharacter)
	adminG.GET("/characters", h.Catalog.ListCharacters)
	adminG.POST("/characters/import", h.Catalog.ImportCharacters)
	adminG.PATCH("/characters/:cid", h.Catalog.UpdateCharacter)
	adminG.DELETE("/characters/:cid", h.Catalog.DeleteCharacter)
	adminG.POST("/characters/:cid/images/:kind", h.Catalog.UploadImage)

	adminG.POST("/items", h.Catalog.CreateItem)
	adminG.GET("/items", h.Catalog.ListItems)
	adminG.PATCH("/items/:iid", h.Catalog.UpdateItem)
	adminG.DELETE("/items/:iid", h.Catalog.DeleteItem)

	adminG.GET("/players", h.Catalog.ListPlayers)
	adminG.POST("/players/:pid/ban", h.Catalog.BanPlayer)

	adminG.GET("/requests", h.Requests.Pending)
	adminG.GET("/requests/:mid/review", h.Requests.Review)
	adminG.POST("/requests/:mid/resolve", h.Requests.Resolve)
	adminG.GET("/actions", h.Actions.List)

	// Both roles read the clock.
	api.GET("/games/:id/clock", auth, h.Games.Clock)

	playerG := api.Group("/games/:id", auth, mw.RequireRole(mw.RolePlayer))
	playerG.POST("/join", h.Players.Join)
	playerG.POST("/logout", h.Players.Logout)
	playerG.GET("/me", h.Players.Me)
	playerG.GET("/shop", h.Players.Shop)
	playerG.GET("/purchases", h.Players.Purchases)
	playerG.GET("/messages", h.Requests.Messages)
	playerG.POST("/messages/ack", h.Requests.Acknowledge)
	playerG.POST("/requests/login", h.Requests.Submit(model.MsgLoginAttempt))
	playerG.POST("/requests/purchase", h.Requests.Submit(model.MsgPurchaseAttempt))
	playerG.POST("/requests/deposit", h.Requests.Submit(model.MsgDepositAttempt))
	playerG.POST("/requests/withdraw", h.Requests.Submit(model.MsgWithdrawAttempt))
	playerG.POST("/requests/inventory", h.Requests.Submit(model.MsgInventoryAttempt))

	return Groups{Admin: adminG, Player: playerG}
}

// chain returns a new slice of base followed by more.
func chain(base []gin.HandlerFunc, more ...gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(base)+len(more))
	return append(append(out, base...), more...)
}
