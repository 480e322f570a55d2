package web

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/gomphos/gomphos/activitypub"
	"github.com/gomphos/gomphos/db"
	"github.com/gomphos/gomphos/domain"
	"github.com/gomphos/gomphos/trends"
	"github.com/gomphos/gomphos/util"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Server wires the HTTP surface: webfinger, actor documents, inboxes,
// status objects, trends and the RSS feed.
type Server struct {
	db        *db.DB
	conf      *util.AppConfig
	resolver  *activitypub.Resolver
	processor *activitypub.Processor
	outbox    *activitypub.Outbox
	trends    *trends.Engine
}

func NewServer(database *db.DB, conf *util.AppConfig, resolver *activitypub.Resolver,
	processor *activitypub.Processor, outbox *activitypub.Outbox, engine *trends.Engine) *Server {
	return &Server{
		db:        database,
		conf:      conf,
		resolver:  resolver,
		processor: processor,
		outbox:    outbox,
		trends:    engine,
	}
}

// Router builds the gin engine with all routes attached
func (s *Server) Router() *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// Stricter rate limit for ActivityPub endpoints: 5 req/sec per IP
	apLimiter := NewRateLimiter(rate.Limit(5), 10)

	// Max 1MB request body size for ActivityPub activities
	maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024) // 1MB

	g.GET("/.well-known/webfinger", func(c *gin.Context) {
		c.Header("Content-Type", "application/json; charset=utf-8")

		resource := c.Query("resource")
		if resource == "" || !strings.HasPrefix(resource, "acct:") {
			c.Render(404, render.String{Format: GetWebFingerNotFound()})
			return
		}

		resource = strings.TrimPrefix(resource, "acct:")
		user, dom, found := strings.Cut(resource, "@")
		if found && !strings.EqualFold(dom, s.conf.Conf.LocalDomain) {
			c.Render(404, render.String{Format: GetWebFingerNotFound()})
			return
		}

		err, resp := GetWebfinger(s.db, user, s.conf)
		if err != nil {
			c.Render(404, render.String{Format: GetWebFingerNotFound()})
		} else {
			c.Render(200, render.String{Format: resp})
		}
	})

	g.GET("/users/:actor", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		err, actor := GetActor(s.db, c.Param("actor"), s.conf)
		if err != nil {
			c.Render(404, render.String{Format: actor})
		} else {
			c.Render(200, render.String{Format: actor})
		}
	})

	g.GET("/statuses/:id", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		statusId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Invalid status ID"})
			return
		}

		err, note := s.getStatusObject(statusId)
		if err != nil {
			c.JSON(404, gin.H{"error": "Status not found"})
		} else {
			c.Render(200, render.String{Format: note})
		}
	})

	g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, s.handleInbox)
	g.POST("/users/:actor/inbox", RateLimitMiddleware(apLimiter), maxBodySize, s.handleInbox)

	g.GET("/users/:actor/outbox", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		c.Render(200, render.String{Format: "{}"})
	})

	g.GET("/users/:actor/followers", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		c.Render(200, render.String{Format: "{}"})
	})

	g.GET("/users/:actor/following", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		c.Render(200, render.String{Format: "{}"})
	})

	// RSS Feed
	g.GET("/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		rss, err := GetRSS(s.db, s.conf)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rss})
		}
	})

	g.GET("/feed/:id", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		feedId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.Render(404, render.String{Format: ""})
			return
		}

		rssItem, err := GetRSSItem(s.db, s.conf, feedId)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rssItem})
		}
	})

	g.GET("/api/trends/tags", s.handleTrendingTags)
	g.GET("/api/accounts/lookup", s.handleAccountLookup)

	return g
}

// Run starts the HTTP server and blocks
func (s *Server) Run() error {
	log.Printf("Web: starting server on %s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort)
	return s.Router().Run(fmt.Sprintf(":%d", s.conf.Conf.HttpPort))
}

// handleInbox accepts a federated activity. The sender is
// authenticated by the HTTP signature when the key belongs to the
// activity's actor, or by the embedded LD signature for relayed
// copies.
func (s *Server) handleInbox(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		log.Printf("Inbox: failed to read body: %v", err)
		c.Status(400)
		return
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		log.Printf("Inbox: failed to parse activity: %v", err)
		c.Status(400)
		return
	}
	var envelope activitypub.ActivityEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.Status(400)
		return
	}

	ctx := c.Request.Context()

	signedBy := ""
	if keyId, err := activitypub.SigningKeyId(c.Request); err == nil {
		signer, err := s.resolver.ResolveKeyId(ctx, keyId)
		if err == nil && signer != nil && verifyDigest(c.Request, body) == nil {
			if actorURI, err := activitypub.VerifyRequest(c.Request, signer.PublicKeyPem); err == nil {
				signedBy = actorURI
			}
		}
	}

	actor := s.processor.AuthenticateEnvelope(ctx, &envelope, doc, signedBy)
	if actor == nil {
		c.Status(401)
		return
	}

	if err := s.processor.ProcessInbox(ctx, body, actor); err != nil {
		log.Printf("Inbox: processing %s from %s failed: %v", envelope.Type, actor.Acct(), err)
		c.Status(500)
		return
	}

	c.Status(202)
}

func (s *Server) handleTrendingTags(c *gin.Context) {
	limit := int64(10)
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 && v <= 40 {
			limit = v
		}
	}

	members, err := s.trends.Trending(c.Request.Context(), trends.SubjectTag, trends.SetAllowed, limit)
	if err != nil {
		c.JSON(500, gin.H{"error": "trends unavailable"})
		return
	}

	type trendingTag struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}

	out := make([]trendingTag, 0, len(members))
	for _, member := range members {
		tagId, err := strconv.ParseInt(member.Member, 10, 64)
		if err != nil {
			continue
		}
		err, tag := s.db.ReadTagById(tagId)
		if err != nil {
			continue
		}
		out = append(out, trendingTag{Name: tag.Name, Score: member.Score})
	}

	c.JSON(200, out)
}

// handleAccountLookup resolves a "user@domain" handle, going over the
// wire for remote accounts the server has not seen yet.
func (s *Server) handleAccountLookup(c *gin.Context) {
	acct := c.Query("acct")
	if acct == "" {
		c.JSON(400, gin.H{"error": "acct parameter required"})
		return
	}

	account, err := s.resolver.ResolveAccount(c.Request.Context(), acct, activitypub.ResolveOptions{})
	if err != nil {
		if errors.Is(err, domain.ErrRaceCondition) {
			c.Header("Retry-After", "5")
			c.JSON(503, gin.H{"error": "resolution in progress"})
			return
		}
		c.JSON(500, gin.H{"error": "resolution failed"})
		return
	}
	if account == nil {
		c.JSON(404, gin.H{"error": "account not found"})
		return
	}

	c.JSON(200, gin.H{
		"acct":     account.Acct(),
		"username": account.Username,
		"domain":   account.Domain,
		"uri":      account.ActorURI,
	})
}

// getStatusObject renders a local status as its ActivityPub object
func (s *Server) getStatusObject(statusId uuid.UUID) (error, string) {
	err, status := s.db.ReadStatusById(statusId)
	if err != nil {
		return err, ""
	}
	if !status.Local || !status.DeletedAt.IsZero() || status.Visibility == domain.VisibilityDirect {
		return errors.New("status not visible"), ""
	}

	err, acc := s.db.ReadAccountById(status.AccountId)
	if err != nil {
		return err, ""
	}

	note, err := s.outbox.BuildNote(status, acc)
	if err != nil {
		return err, ""
	}
	note["@context"] = "https://www.w3.org/ns/activitystreams"

	out, err := json.Marshal(note)
	if err != nil {
		return err, ""
	}
	return nil, string(out)
}

// verifyDigest checks the Digest header against the request body
func verifyDigest(req *http.Request, body []byte) error {
	digest := req.Header.Get("Digest")
	if digest == "" {
		return errors.New("missing digest header")
	}
	sum := sha256.Sum256(body)
	want := "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
	if digest != want {
		return errors.New("digest mismatch")
	}
	return nil
}
