package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prospectlabs/prospect/backend/internal/products"
	"github.com/prospectlabs/prospect/backend/internal/tracker"
	"github.com/prospectlabs/prospect/backend/internal/users"
	"go.uber.org/zap"
)

const userIDContextKey = "prospect_user_id"

var (
	errMissingAccounts      = errors.New("account service dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingEngine        = errors.New("sync engine dependency required")
	errMissingGateway       = errors.New("mutation gateway dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// SessionTokenManager issues and validates API session tokens.
type SessionTokenManager interface {
	IssueSessionToken(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface to the tracker core.
type Dependencies struct {
	Accounts     *users.Service
	TokenManager SessionTokenManager
	Engine       *tracker.Engine
	Gateway      *tracker.Gateway
	Logger       *zap.Logger

	// BaseContext bounds session subscriptions; they must outlive the
	// request that started them. Defaults to context.Background().
	BaseContext context.Context
}

// NewHTTPHandler builds the gin router for the tracker API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Accounts == nil {
		return nil, errMissingAccounts
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Engine == nil {
		return nil, errMissingEngine
	}
	if deps.Gateway == nil {
		return nil, errMissingGateway
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx := deps.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		accounts: deps.Accounts,
		tokens:   deps.TokenManager,
		engine:   deps.Engine,
		gateway:  deps.Gateway,
		logger:   logger,
		baseCtx:  baseCtx,
	}

	router.POST("/auth/signup", handler.handleSignUp)
	router.POST("/auth/signin", handler.handleSignIn)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/auth/signout", handler.handleSignOut)
	protected.GET("/products", handler.handleListProducts)
	protected.POST("/products", handler.handleCreateProduct)
	protected.PATCH("/products/:id", handler.handleUpdateField)
	protected.PUT("/products/:id/competitors/:index", handler.handleUpdateCompetitor)
	protected.POST("/products/:id/links", handler.handleAddLink)
	protected.PATCH("/products/:id/links/:linkID", handler.handleUpdateLink)
	protected.DELETE("/products/:id/links/:linkID", handler.handleDeleteLink)
	protected.DELETE("/products/:id", handler.handleDeleteProduct)
	protected.PUT("/products/:id/select", handler.handleSelectProduct)
	protected.DELETE("/products/selection", handler.handleClearSelection)
	protected.GET("/products/stream", handler.handleStream)

	return router, nil
}

type httpHandler struct {
	accounts *users.Service
	tokens   SessionTokenManager
	engine   *tracker.Engine
	gateway  *tracker.Gateway
	logger   *zap.Logger
	baseCtx  context.Context
}

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
}

func (h *httpHandler) handleSignUp(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.accounts.SignUp(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, users.ErrEmailTaken) {
			status = http.StatusConflict
		}
		// credential error messages are written for the user and pass
		// through verbatim
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	h.openSession(c, account.ID)
}

func (h *httpHandler) handleSignIn(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.accounts.SignIn(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	h.openSession(c, account.ID)
}

func (h *httpHandler) openSession(c *gin.Context, userID string) {
	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	if _, err := h.engine.StartSession(h.baseCtx, userID); err != nil {
		h.logger.Error("failed to start session", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_start_failed"})
		return
	}

	c.JSON(http.StatusOK, sessionResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		UserID:      userID,
	})
}

func (h *httpHandler) handleSignOut(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if session := h.engine.ActiveSession(); session != nil && session.UserID() == userID {
		h.engine.EndSession()
	}
	c.Status(http.StatusNoContent)
}

// productView is one row of the list surface: the record plus its derived
// display columns.
type productView struct {
	products.Product
	Margin        string `json:"margin"`
	Roas          string `json:"roas"`
	RoasFavorable bool   `json:"roasFavorable"`
}

type collectionResponsePayload struct {
	Products []productView `json:"products"`
	Selected string        `json:"selected"`
	Loading  bool          `json:"loading"`
}

func collectionResponse(session *tracker.Session, query string) collectionResponsePayload {
	collection := session.Filtered(query)
	views := make([]productView, 0, len(collection))
	for _, product := range collection {
		views = append(views, newProductView(product))
	}
	return collectionResponsePayload{
		Products: views,
		Selected: session.Selected(),
		Loading:  session.Loading(),
	}
}

func newProductView(product products.Product) productView {
	margin := products.CurrencyPlaceholder
	if value, ok := products.Margin(product.Price, product.Cogs); ok {
		margin = products.FormatCurrency(strconv.FormatFloat(value, 'f', -1, 64))
	}
	roas := products.CalculateRoas(product.Price, product.Cogs)
	return productView{
		Product:       product,
		Margin:        margin,
		Roas:          products.FormatRoas(roas),
		RoasFavorable: roas.Favorable(),
	}
}

func (h *httpHandler) handleListProducts(c *gin.Context) {
	session, ok := h.sessionFor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, collectionResponse(session, c.Query("query")))
}

func (h *httpHandler) handleCreateProduct(c *gin.Context) {
	if _, ok := h.sessionFor(c); !ok {
		return
	}
	productID, err := h.gateway.CreateProduct(c.Request.Context())
	if err != nil {
		h.renderGatewayError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": productID})
}

type fieldUpdatePayload struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

func (h *httpHandler) handleUpdateField(c *gin.Context) {
	if _, ok := h.sessionFor(c); !ok {
		return
	}
	var request fieldUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Field == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.gateway.UpdateField(c.Request.Context(), c.Param("id"), request.Field, request.Value); err != nil {
		h.renderGatewayError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type textFieldUpdatePayload struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (h *httpHandler) handleUpdateCompetitor(c *gin.Context) {
	if _, ok := h.sessionFor(c); !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_index"})
		return
	}
	var request textFieldUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Field == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.gateway.UpdateCompetitorField(c.Request.Context(), c.Param("id"), index, request.Field, request.Value); err != nil {
		h.renderGatewayError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAddLink(c *gin.Context) {
	if _, ok := h.sessionFor(c); !ok {
		return
	}
	linkID, err := h.gateway.AddLink(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderGatewayError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": linkID})
}

func (h *httpHandler) handleUpdateLink(c *gin.Context) {
	if _, ok := h.sessionFor(c); !ok {
		return
	}
	var request textFieldUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Field == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.gateway.UpdateLinkField(c.Request.Context(), c.Param("id"), c.Param("linkID"), request.Field, request.Value); err != nil {
		h.renderGatewayError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeleteLink(c *gin.Context) {
	if _, ok := h.sessionFor(c); !ok {
		return
	}
	if err := h.gateway.DeleteLink(c.Request.Context(), c.Param("id"), c.Param("linkID")); err != nil {
		h.renderGatewayError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeleteProduct(c *gin.Context) {
	if _, ok := h.sessionFor(c); !ok {
		return
	}
	if err := h.gateway.DeleteProduct(c.Request.Context(), c.Param("id")); err != nil {
		h.renderGatewayError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSelectProduct(c *gin.Context) {
	session, ok := h.sessionFor(c)
	if !ok {
		return
	}
	productID := c.Param("id")
	if _, found := session.Find(productID); !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_product"})
		return
	}
	session.Select(productID)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleClearSelection(c *gin.Context) {
	session, ok := h.sessionFor(c)
	if !ok {
		return
	}
	session.ClearSelection()
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) sessionFor(c *gin.Context) (*tracker.Session, bool) {
	userID := c.GetString(userIDContextKey)
	session, err := h.engine.SessionFor(userID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "no_active_session"})
		return nil, false
	}
	return session, true
}

func (h *httpHandler) renderGatewayError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tracker.ErrNoSession):
		c.JSON(http.StatusConflict, gin.H{"error": "no_active_session"})
	case errors.Is(err, tracker.ErrUnknownProduct), errors.Is(err, tracker.ErrUnknownLink):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, tracker.ErrCompetitorIndex), errors.Is(err, products.ErrUnknownField),
		errors.Is(err, products.ErrInvalidFieldValue), errors.Is(err, products.ErrInvalidProductID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("product mutation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "write_failed"})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
