package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/pricepulse/internal/api"
	"github.com/rickgao/pricepulse/internal/cache"
	"github.com/rickgao/pricepulse/internal/model"
)

// Error bodies returned by the upstream proxies.
const (
	msgWeatherKeyMissing = "OpenWeather API key not configured"
	msgInvalidParams     = "Invalid request parameters"
	msgWeatherFailed     = "Failed to fetch weather data"
	msgNewsKeyMissing    = "API key is not configured"
	msgNewsFailed        = "Failed to fetch news data"
	msgRateLimited       = "API rate limit reached. Please try again later."
	msgMarketsInvalid    = "Invalid cryptocurrency data received"
	msgMarketsFailed     = "Failed to fetch cryptocurrency data"
)

type cityHistory struct {
	Current model.WeatherCity           `json:"currentCity"`
	History []model.WeatherHistoryEntry `json:"history"`
}

type notificationsBody struct {
	Notifications []model.Notification `json:"notifications"`
	Unread        int                  `json:"unread"`
}

type addAssetRequest struct {
	Asset string `json:"asset" binding:"required"`
}

// -----------------------------------------------------------------------------
// Upstream proxies
// -----------------------------------------------------------------------------

func (s *Server) getWeather(c *gin.Context) {
	if s.deps.Weather == nil || !s.deps.Weather.Configured() {
		c.JSON(http.StatusInternalServerError, model.WeatherResponse{Error: msgWeatherKeyMissing})
		return
	}

	action := c.Query("action")
	city := strings.TrimSpace(c.Query("city"))

	switch {
	case action == "all":
		s.weatherAll(c)
	case action == "city" && city != "":
		s.weatherCity(c, city)
	default:
		c.JSON(http.StatusBadRequest, model.WeatherResponse{Error: msgInvalidParams})
	}
}

func (s *Server) weatherAll(c *gin.Context) {
	if s.deps.Snapshot != nil && s.cfg.SnapshotMaxAge > 0 {
		if cities, at := s.deps.Snapshot.Latest(); len(cities) > 0 && time.Since(at) <= s.cfg.SnapshotMaxAge {
			c.JSON(http.StatusOK, model.WeatherResponse{Data: cities})
			return
		}
	}

	cities, err := cache.Fetch(c.Request.Context(), s.deps.Cache, "weather:all", s.logger,
		func(ctx context.Context) ([]model.WeatherCity, error) {
			return s.deps.Weather.CurrentAll(ctx, s.cfg.Cities)
		})
	if err != nil {
		s.logger.Warn("weather fetch failed", "error", err)
		c.JSON(http.StatusInternalServerError, model.WeatherResponse{Error: msgWeatherFailed})
		return
	}
	c.JSON(http.StatusOK, model.WeatherResponse{Data: cities})
}

func (s *Server) weatherCity(c *gin.Context, city string) {
	key := "weather:city:" + strings.ToLower(city)
	h, err := cache.Fetch(c.Request.Context(), s.deps.Cache, key, s.logger,
		func(ctx context.Context) (cityHistory, error) {
			cur, history, err := s.deps.Weather.History(ctx, city)
			return cityHistory{Current: cur, History: history}, err
		})
	if err != nil {
		s.logger.Warn("weather history failed", "city", city, "error", err)
		if errors.Is(err, api.ErrNoForecast) {
			c.JSON(http.StatusInternalServerError, model.WeatherResponse{
				Error: fmt.Sprintf("Failed to fetch forecast for %s", city),
			})
			return
		}
		c.JSON(http.StatusNotFound, model.WeatherResponse{
			Error: fmt.Sprintf("Failed to fetch current weather for %s", city),
		})
		return
	}

	current := h.Current
	c.JSON(http.StatusOK, model.WeatherResponse{CurrentCity: &current, History: h.History})
}

func (s *Server) getNews(c *gin.Context) {
	if s.deps.News == nil || !s.deps.News.Configured() {
		c.JSON(http.StatusInternalServerError, model.NewsResponse{Error: msgNewsKeyMissing})
		return
	}

	articles, err := cache.Fetch(c.Request.Context(), s.deps.Cache, "news:latest", s.logger, s.deps.News.Latest)
	if err != nil {
		s.logger.Warn("news fetch failed", "error", err)
		c.JSON(http.StatusInternalServerError, model.NewsResponse{Error: msgNewsFailed})
		return
	}
	c.JSON(http.StatusOK, model.NewsResponse{Data: articles})
}

// getMarkets serves market summaries for the assets the stream tracks.
func (s *Server) getMarkets(c *gin.Context) {
	if s.deps.Markets == nil {
		c.JSON(http.StatusServiceUnavailable, model.MarketResponse{Error: msgMarketsFailed})
		return
	}

	ids := s.deps.Stream.Status().Assets
	key := "crypto:markets:" + strings.Join(ids, ",")
	markets, err := cache.Fetch(c.Request.Context(), s.deps.Cache, key, s.logger,
		func(ctx context.Context) ([]model.MarketData, error) {
			return s.deps.Markets.Markets(ctx, ids)
		})
	if err != nil {
		s.logger.Warn("market data fetch failed", "error", err)
		switch {
		case errors.Is(err, api.ErrRateLimited):
			c.JSON(http.StatusTooManyRequests, model.MarketResponse{Error: msgRateLimited})
		case errors.Is(err, api.ErrInvalidMarketData):
			c.JSON(http.StatusBadGateway, model.MarketResponse{Error: msgMarketsInvalid})
		default:
			c.JSON(http.StatusInternalServerError, model.MarketResponse{Error: msgMarketsFailed})
		}
		return
	}
	c.JSON(http.StatusOK, model.MarketResponse{Data: markets})
}

// -----------------------------------------------------------------------------
// Stream
// -----------------------------------------------------------------------------

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Stream.Status())
}

func (s *Server) getPrices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"prices": s.deps.Prices.Snapshot()})
}

func (s *Server) postAsset(c *gin.Context) {
	var req addAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil || model.NormalizeAsset(req.Asset) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "asset is required"})
		return
	}

	added, err := s.deps.Stream.AddAsset(c.Request.Context(), req.Asset)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"asset":  model.NormalizeAsset(req.Asset),
		"added":  added,
		"status": s.deps.Stream.Status(),
	})
}

func (s *Server) connectStream(c *gin.Context) {
	if err := s.deps.Stream.Connect(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, s.deps.Stream.Status())
}

func (s *Server) disconnectStream(c *gin.Context) {
	if err := s.deps.Stream.Disconnect(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.deps.Stream.Status())
}

// -----------------------------------------------------------------------------
// Notifications
// -----------------------------------------------------------------------------

func (s *Server) getNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, notificationsBody{
		Notifications: s.deps.Notifications.List(),
		Unread:        s.deps.Notifications.Unread(),
	})
}

func (s *Server) markNotificationsRead(c *gin.Context) {
	s.deps.Notifications.MarkAllRead()
	c.JSON(http.StatusOK, gin.H{"unread": s.deps.Notifications.Unread()})
}

func (s *Server) clearNotifications(c *gin.Context) {
	s.deps.Notifications.Clear()
	c.Status(http.StatusNoContent)
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

func (s *Server) getHealth(c *gin.Context) {
	body := gin.H{
		"status":  "ok",
		"clients": s.hub.Clients(),
	}
	if s.deps.Stream != nil {
		st := s.deps.Stream.Status()
		body["connected"] = st.Connected
		body["state"] = st.State
	}
	c.JSON(http.StatusOK, body)
}
