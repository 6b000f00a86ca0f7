// Package web serves the HTML chat and about pages.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"portfoliochat/internal/config"
	"portfoliochat/internal/history"
	"portfoliochat/internal/service/conversation"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const conversationHeading = "Conversation"

// Pages renders the server-side chat UI.
type Pages struct {
	conv *conversation.Manager
	site config.SiteConfig
	tmpl *template.Template
}

func NewPages(conv *conversation.Manager, site config.SiteConfig) (*Pages, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Pages{conv: conv, site: site, tmpl: tmpl}, nil
}

// RegisterRoutes installs the page templates and routes on router.
func (p *Pages) RegisterRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(p.tmpl)
	router.GET("/", p.chatPage)
	router.GET("/aboutme", p.aboutPage)

	forms := router.Group("/chat", csrfMiddleware())
	forms.POST("", p.submit)
	forms.POST("/new", p.newChat)
	forms.POST("/select/:id", p.selectChat)
	forms.POST("/delete/:id", p.deleteChat)
	forms.POST("/clear", p.clearChats)
}

type chatView struct {
	Site       config.SiteConfig
	Heading    string
	Snapshot   conversation.Snapshot
	Query      string
	Entries    []history.Entry
	EmptyText  string
	HasHistory bool
	CSRFToken  string
}

func (p *Pages) chatPage(c *gin.Context) {
	token, err := csrfToken(c)
	if err != nil {
		p.fail(c, err)
		return
	}
	snap := p.conv.Snapshot()
	chats := p.conv.History()
	query := strings.TrimSpace(c.Query("q"))

	heading := p.site.Welcome
	if len(snap.Messages) > 0 {
		heading = conversationHeading
	}
	c.HTML(http.StatusOK, "chat.tmpl", chatView{
		Site:       p.site,
		Heading:    heading,
		Snapshot:   snap,
		Query:      query,
		Entries:    history.Entries(chats, query, snap.ActiveID),
		EmptyText:  history.EmptyText(query),
		HasHistory: len(chats) > 0,
		CSRFToken:  token,
	})
}

func (p *Pages) aboutPage(c *gin.Context) {
	c.HTML(http.StatusOK, "about.tmpl", gin.H{"Site": p.site})
}

// submit waits a bounded time for the reply so a plain form post shows it
// after the redirect.
func (p *Pages) submit(c *gin.Context) {
	if _, ok := p.conv.Submit(c.PostForm("text")); ok {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Duration(p.site.FormWait)*time.Second)
		defer cancel()
		if err := p.conv.Wait(ctx); err != nil {
			log.Printf("web: reply still pending: %v", err)
		}
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (p *Pages) newChat(c *gin.Context) {
	p.conv.NewSession()
	c.Redirect(http.StatusSeeOther, "/")
}

func (p *Pages) selectChat(c *gin.Context) {
	if err := p.conv.Select(c.Param("id")); err != nil {
		p.fail(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (p *Pages) deleteChat(c *gin.Context) {
	if err := p.conv.Delete(c.Param("id")); err != nil {
		p.fail(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (p *Pages) clearChats(c *gin.Context) {
	if err := p.conv.ClearAll(c.Request.Context()); err != nil {
		p.fail(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (p *Pages) fail(c *gin.Context, err error) {
	if errors.Is(err, conversation.ErrChatNotFound) {
		c.String(http.StatusNotFound, "chat not found")
		return
	}
	log.Printf("web: %v", err)
	c.String(http.StatusInternalServerError, "something went wrong")
}
