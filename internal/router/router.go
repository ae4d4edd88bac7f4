package router

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/psds-microservice/book-service/api"
	"github.com/psds-microservice/book-service/internal/handler"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const (
	PathHealth  = "/health"
	PathReady   = "/ready"
	PathSwagger = "/swagger"

	HeaderRequestID = "X-Request-ID"
)

func New(bookHandler *handler.BookHandler) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger())
	r.GET(PathHealth, handler.Health)
	r.GET(PathReady, handler.Ready)
	r.GET(PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, PathSwagger+"/") })
	r.GET(PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = PathSwagger + "/index.html"
			c.Request.RequestURI = PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL(PathSwagger+"/openapi.json"))(c)
	})

	book := r.Group("/book")
	book.GET("/go", bookHandler.Go)
	book.GET("/es", bookHandler.Info)
	book.GET("/es/asyn", bookHandler.InfoAsync)
	book.POST("/add", bookHandler.Add)
	book.POST("/parallAddOrUpdate", bookHandler.ParallelAddOrUpdate)
	book.GET("/query", bookHandler.Query)
	book.GET("/queryMatch", bookHandler.QueryMatch)
	book.PUT("/update2/:id", bookHandler.UpdateName)
	book.GET("/:id", bookHandler.Get)
	book.PUT("/:id", bookHandler.Update)
	book.DELETE("/:id", bookHandler.Delete)
	return r
}

// RequestLogger tags every request with an ID (taken from X-Request-ID or generated) and logs it.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(HeaderRequestID, rid)
		c.Set("request_id", rid)

		start := time.Now()
		c.Next()
		log.Printf("http: [%s] %s %s %d %s", rid, c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
