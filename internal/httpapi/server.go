// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/dfmarket/marketd/pkg/adreg"
	"github.com/dfmarket/marketd/pkg/auction"
	"github.com/dfmarket/marketd/pkg/clicks"
	"github.com/dfmarket/marketd/pkg/events"
	"github.com/dfmarket/marketd/pkg/ids"
	"github.com/dfmarket/marketd/pkg/log"
	"github.com/dfmarket/marketd/pkg/settlement"
)

// Server exposes the public REST surface: auction and ad queries, click
// recording, link generation and the live event feed.
type Server struct {
	english *auction.EnglishEngine
	dutch   *auction.DutchEngine
	ads     *adreg.Registry
	store   clicks.Store
	codec   *adreg.ShareCodec
	batcher *settlement.Batcher
	bus     *events.Bus
	log     log.Logger

	baseURL string // external base URL used when building share links
}

// NewServer wires the API server.
func NewServer(
	english *auction.EnglishEngine,
	dutch *auction.DutchEngine,
	ads *adreg.Registry,
	store clicks.Store,
	codec *adreg.ShareCodec,
	batcher *settlement.Batcher,
	bus *events.Bus,
	baseURL string,
	logger log.Logger,
) *Server {
	return &Server{
		english: english,
		dutch:   dutch,
		ads:     ads,
		store:   store,
		codec:   codec,
		batcher: batcher,
		bus:     bus,
		baseURL: baseURL,
		log:     logger,
	}
}

// Router builds the gin router.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	router.Use(cors.New(config))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().Unix()})
	})

	api := router.Group("/api/v1")
	{
		api.GET("/auctions/english", s.listActiveEnglish)
		api.GET("/auctions/english/all", s.listAllEnglish)
		api.GET("/auctions/english/user/:address", s.listEnglishByUser)
		api.GET("/auctions/english/:nft/:tokenId", s.getEnglish)

		api.GET("/auctions/dutch", s.listActiveDutch)
		api.GET("/auctions/dutch/all", s.listAllDutch)
		api.GET("/auctions/dutch/user/:address", s.listDutchByUser)
		api.GET("/auctions/dutch/:nft/:tokenId", s.getDutch)
		api.GET("/auctions/dutch/:nft/:tokenId/price", s.getDutchPrice)

		api.GET("/ads", s.listActiveAds)
		api.GET("/ads/all", s.listAllAds)
		api.GET("/ads/user/:address", s.listAdsByUser)
		api.GET("/ads/:id", s.getAd)
		api.POST("/ads/generate-link", s.generateLink)

		api.POST("/settle", s.triggerSettlement)
	}

	// Click paths sit outside the versioned API group.
	router.GET("/api/ad/click", s.recordClick)
	router.GET("/ad/redirect/:code", s.redirectShareLink)

	router.GET("/ws/events", s.streamEvents)

	return router
}

func (s *Server) listActiveEnglish(c *gin.Context) {
	c.JSON(http.StatusOK, s.english.GetActiveAuctions())
}

func (s *Server) listAllEnglish(c *gin.Context) {
	c.JSON(http.StatusOK, s.english.GetAllAuctions())
}

func (s *Server) listEnglishByUser(c *gin.Context) {
	addr, err := ids.AddressFromString(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	c.JSON(http.StatusOK, s.english.GetAuctionsByUser(addr))
}

func (s *Server) getEnglish(c *gin.Context) {
	nftAddr, tokenID, ok := s.auctionKeyParams(c)
	if !ok {
		return
	}

	a, err := s.english.GetAuction(nftAddr, tokenID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) listActiveDutch(c *gin.Context) {
	c.JSON(http.StatusOK, s.dutch.GetActiveAuctions())
}

func (s *Server) listAllDutch(c *gin.Context) {
	c.JSON(http.StatusOK, s.dutch.GetAllAuctions())
}

func (s *Server) listDutchByUser(c *gin.Context) {
	addr, err := ids.AddressFromString(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	c.JSON(http.StatusOK, s.dutch.GetAuctionsByUser(addr))
}

func (s *Server) getDutch(c *gin.Context) {
	nftAddr, tokenID, ok := s.auctionKeyParams(c)
	if !ok {
		return
	}

	a, err := s.dutch.GetAuction(nftAddr, tokenID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) getDutchPrice(c *gin.Context) {
	nftAddr, tokenID, ok := s.auctionKeyParams(c)
	if !ok {
		return
	}

	price, err := s.dutch.GetPrice(nftAddr, tokenID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"price": price})
}

func (s *Server) listActiveAds(c *gin.Context) {
	c.JSON(http.StatusOK, s.ads.GetActiveAds())
}

func (s *Server) listAllAds(c *gin.Context) {
	c.JSON(http.StatusOK, s.ads.GetAllAds())
}

func (s *Server) listAdsByUser(c *gin.Context) {
	addr, err := ids.AddressFromString(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	c.JSON(http.StatusOK, s.ads.GetUserAds(addr))
}

func (s *Server) getAd(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ad id"})
		return
	}

	ad, err := s.ads.GetAd(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ad)
}

func (s *Server) generateLink(c *gin.Context) {
	var req struct {
		AdID uint64 `json:"adId" binding:"required"`
		User string `json:"user" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := ids.AddressFromString(req.User)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user address"})
		return
	}

	linkID, err := s.ads.GenerateAdLink(user, req.AdID)
	if err != nil {
		if errors.Is(err, adreg.ErrInvalidAd) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	code, err := s.codec.Encode(linkID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"linkId":  linkID,
		"adLink":  fmt.Sprintf("%s/ad/redirect/%s", s.baseURL, code),
	})
}

// recordClick increments the accumulator cell for (adId, linkId) and
// redirects to the ad's target URL. Recording is an idempotent add, so
// the endpoint stays fast and lock-free for concurrent viewers.
func (s *Server) recordClick(c *gin.Context) {
	adID, err1 := strconv.ParseUint(c.Query("adId"), 10, 64)
	linkID, err2 := strconv.ParseUint(c.Query("linkId"), 10, 64)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing adId or linkId"})
		return
	}

	ad, err := s.ads.GetAd(adID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	// Only links the registry issued for this ad may accumulate clicks;
	// anything else would be rejected at settlement anyway.
	linkAd, _, err := s.ads.ResolveLink(linkID)
	if err != nil || linkAd != adID {
		c.JSON(http.StatusNotFound, gin.H{"error": adreg.ErrInvalidLink.Error()})
		return
	}

	if err := s.store.Increment(c.Request.Context(), adID, linkID); err != nil {
		s.log.Error("failed to record click", "adId", adID, "linkId", linkID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record click"})
		return
	}

	c.Redirect(http.StatusFound, ad.TargetURL)
}

func (s *Server) redirectShareLink(c *gin.Context) {
	linkID, err := s.codec.Decode(c.Param("code"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	adID, _, err := s.ads.ResolveLink(linkID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	ad, err := s.ads.GetAd(adID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	if err := s.store.Increment(c.Request.Context(), adID, linkID); err != nil {
		s.log.Error("failed to record click", "adId", adID, "linkId", linkID, "error", err)
	}

	c.Redirect(http.StatusFound, ad.TargetURL)
}

func (s *Server) triggerSettlement(c *gin.Context) {
	s.batcher.Trigger()
	c.JSON(http.StatusAccepted, gin.H{"status": "settlement triggered"})
}

func (s *Server) auctionKeyParams(c *gin.Context) (ids.Address, uint64, bool) {
	nftAddr, err := ids.AddressFromString(c.Param("nft"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid nft address"})
		return ids.ZeroAddress, 0, false
	}

	tokenID, err := strconv.ParseUint(c.Param("tokenId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token id"})
		return ids.ZeroAddress, 0, false
	}
	return nftAddr, tokenID, true
}
