package storesim

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/golang/glog"
)

// Server is an in-process simulator of the remote store: the same contract the
// real backend exposes (token auth, one-shot reads and writes, continuous
// snapshot subscriptions), small enough to run inside a test.

type simUser struct {
	userId       string
	email        string
	passwordHash []byte
}

type Server struct {
	store  *Store
	secret []byte

	mutex        sync.Mutex
	usersByEmail map[string]*simUser
}

func NewServer(secret string) *Server {
	return &Server{
		store:        NewStore(),
		secret:       []byte(secret),
		usersByEmail: map[string]*simUser{},
	}
}

func (self *Server) Store() *Store {
	return self.store
}

func (self *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/auth/register", self.register)
	router.POST("/auth/login", self.login)

	data := router.Group("/data", self.auth())
	data.GET("/*path", self.getValue)
	data.PATCH("/*path", self.update)
	data.PUT("/*path", self.set)
	data.DELETE("/*path", self.remove)

	router.GET("/sync", self.auth(), self.sync)

	return router
}

func (self *Server) Run(addr string) error {
	glog.Infof("[sim]listening on %s\n", addr)
	return self.Router().Run(addr)
}

func (self *Server) register(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Nombre   string `json:"nombre"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "invalid request")
		return
	}
	if req.Email == "" || req.Password == "" {
		c.String(http.StatusBadRequest, "email and password are required")
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.String(http.StatusInternalServerError, "hash failed")
		return
	}

	user := &simUser{
		userId:       ulid.Make().String(),
		email:        req.Email,
		passwordHash: passwordHash,
	}

	self.mutex.Lock()
	if _, ok := self.usersByEmail[req.Email]; ok {
		self.mutex.Unlock()
		c.String(http.StatusConflict, "email already registered")
		return
	}
	self.usersByEmail[req.Email] = user
	self.mutex.Unlock()

	// bootstrap the profile record, as registration does in the real app
	self.store.Set("users/"+user.userId, map[string]any{
		"email":           req.Email,
		"nombre":          req.Nombre,
		"telefono":        "",
		"fechaNacimiento": "",
	})

	byJwt, err := self.issueJwt(user)
	if err != nil {
		c.String(http.StatusInternalServerError, "token failed")
		return
	}
	glog.V(2).Infof("[sim]registered %s as %s\n", user.email, user.userId)
	c.JSON(http.StatusOK, gin.H{"by_jwt": byJwt})
}

func (self *Server) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "invalid request")
		return
	}

	self.mutex.Lock()
	user, ok := self.usersByEmail[req.Email]
	self.mutex.Unlock()

	if !ok || bcrypt.CompareHashAndPassword(user.passwordHash, []byte(req.Password)) != nil {
		c.String(http.StatusUnauthorized, "invalid email or password")
		return
	}

	byJwt, err := self.issueJwt(user)
	if err != nil {
		c.String(http.StatusInternalServerError, "token failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"by_jwt": byJwt})
}

func (self *Server) issueJwt(user *simUser) (string, error) {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"user_id": user.userId,
		"email":   user.email,
	})
	return token.SignedString(self.secret)
}

func (self *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		byJwt := ""
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			byJwt = strings.TrimPrefix(auth, "Bearer ")
		}
		if byJwt == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		token, err := gojwt.Parse(byJwt, func(token *gojwt.Token) (any, error) {
			return self.secret, nil
		}, gojwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		claims, ok := token.Claims.(gojwt.MapClaims)
		if !ok {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		userId, _ := claims["user_id"].(string)
		if userId == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		c.Set("userId", userId)
		c.Next()
	}
}

// every path must stay inside the authenticated user's subtree
func ownsPath(userId string, path string) bool {
	parts := splitPath(path)
	return 2 <= len(parts) && parts[0] == "users" && parts[1] == userId
}

func (self *Server) guardPath(c *gin.Context, path string) bool {
	userId := c.GetString("userId")
	if !ownsPath(userId, path) {
		c.String(http.StatusForbidden, "forbidden path")
		return false
	}
	return true
}

func (self *Server) getValue(c *gin.Context) {
	path := c.Param("path")
	if !self.guardPath(c, path) {
		return
	}

	value, ok := self.store.GetValue(path)
	if !ok {
		c.Data(http.StatusOK, "application/json", []byte("null"))
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.String(http.StatusInternalServerError, "marshal failed")
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

func (self *Server) update(c *gin.Context) {
	path := c.Param("path")
	if !self.guardPath(c, path) {
		return
	}

	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.String(http.StatusBadRequest, "invalid fields")
		return
	}
	self.store.Update(path, fields)
	c.JSON(http.StatusOK, gin.H{})
}

func (self *Server) set(c *gin.Context) {
	path := c.Param("path")
	if !self.guardPath(c, path) {
		return
	}

	var value any
	if err := c.ShouldBindJSON(&value); err != nil {
		c.String(http.StatusBadRequest, "invalid value")
		return
	}
	self.store.Set(path, value)
	c.JSON(http.StatusOK, gin.H{})
}

func (self *Server) remove(c *gin.Context) {
	path := c.Param("path")
	if !self.guardPath(c, path) {
		return
	}

	self.store.Remove(path)
	c.JSON(http.StatusOK, gin.H{})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (self *Server) sync(c *gin.Context) {
	path := c.Query("path")
	if !self.guardPath(c, path) {
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		glog.Infof("[sim]upgrade failed = %s\n", err)
		return
	}
	defer ws.Close()

	messages, unsub := self.store.Subscribe(path)
	defer unsub()

	done := make(chan struct{})

	// read pump. discards client frames, services pings, detects close.
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case message := <-messages:
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		}
	}
}
