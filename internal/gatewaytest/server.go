// Package gatewaytest provides an in-process fake of the engagement backend
// for tests: a fiber application holding authoritative state in memory, plus
// an http.RoundTripper bridge so the real HTTP gateway client can talk to it
// without opening a socket.
package gatewaytest

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// User is a directory entry known to the fake backend.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	ChildrenName string `json:"children_name,omitempty"`
}

type attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

type post struct {
	ID            string       `json:"id"`
	Content       string       `json:"content"`
	PostedBy      User         `json:"posted_by"`
	PostedAt      time.Time    `json:"posted_at"`
	Status        string       `json:"status"`
	IsPinned      bool         `json:"is_pinned"`
	Attachments   []attachment `json:"attachments"`
	TotalLikes    int          `json:"total_likes"`
	TotalComments int          `json:"total_comments"`
	IsLikedByUser bool         `json:"is_liked_by_user"`
}

type comment struct {
	ID            string    `json:"id"`
	PostID        string    `json:"-"`
	Content       string    `json:"content"`
	CommentFrom   User      `json:"comment_from"`
	CommentAt     time.Time `json:"comment_at"`
	ParentComment string    `json:"parent_comment,omitempty"`
}

type message struct {
	ID              string      `json:"id"`
	Conversation    string      `json:"conversation"`
	FromUser        User        `json:"from_user"`
	Text            string      `json:"text,omitempty"`
	Attachment      *attachment `json:"attachment,omitempty"`
	QuestionnaireID string      `json:"questionnaire,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	Correlation     string      `json:"correlation,omitempty"`
}

type conversation struct {
	ID               string    `json:"id"`
	Name             string    `json:"name,omitempty"`
	ConversationType string    `json:"conversation_type"`
	Participants     []User    `json:"participants"`
	UpdatedAt        time.Time `json:"updated_at"`
	LastMessage      *message  `json:"last_message,omitempty"`
}

// Questionnaire is the definition served by the fake backend.
type Questionnaire struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Questions   []Question `json:"questions"`
}

// Question is one questionnaire entry.
type Question struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Text        string   `json:"text"`
	Required    bool     `json:"required"`
	Options     []string `json:"options,omitempty"`
	RatingScale int      `json:"rating_scale,omitempty"`
}

// Server is the fake backend. All mutators are safe for concurrent use.
type Server struct {
	app *fiber.App

	mu             sync.Mutex
	seq            int
	users          map[string]User
	posts          map[string]*post
	comments       map[string]*comment
	conversations  map[string]*conversation
	messages       map[string]*message
	likes          map[string]map[string]bool
	questionnaires map[string]Questionnaire
	failures       map[string]int
}

// NewServer constructs an empty fake backend.
func NewServer() *Server {
	s := &Server{
		app:            fiber.New(fiber.Config{DisableStartupMessage: true}),
		users:          make(map[string]User),
		posts:          make(map[string]*post),
		comments:       make(map[string]*comment),
		conversations:  make(map[string]*conversation),
		messages:       make(map[string]*message),
		likes:          make(map[string]map[string]bool),
		questionnaires: make(map[string]Questionnaire),
		failures:       make(map[string]int),
	}
	s.routes()
	return s
}

// Client returns an HTTP client whose transport serves requests from the
// fake backend in process.
func (s *Server) Client() *http.Client {
	return &http.Client{Transport: roundTripper{app: s.app}}
}

type roundTripper struct {
	app *fiber.App
}

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt.app.Test(req, -1)
}

// FailNext makes the next request matching method and path prefix fail with
// the given status.
func (s *Server) FailNext(method, pathPrefix string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+pathPrefix] = status
}

// AddUser registers a directory entry.
func (s *Server) AddUser(user User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// AddPost seeds a post owned by the given user and returns its id.
func (s *Server) AddPost(authorID, content, status string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID("p")
	s.posts[id] = &post{
		ID:       id,
		Content:  content,
		PostedBy: s.users[authorID],
		PostedAt: time.Now().UTC(),
		Status:   status,
	}
	s.likes[id] = make(map[string]bool)
	return id
}

// AddConversation seeds a conversation between the given participants.
func (s *Server) AddConversation(kind string, participantIDs ...string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID("cv")
	conv := &conversation{ID: id, ConversationType: kind, UpdatedAt: time.Now().UTC()}
	for _, pid := range participantIDs {
		conv.Participants = append(conv.Participants, s.users[pid])
	}
	s.conversations[id] = conv
	return id
}

// AddQuestionnaire seeds a questionnaire definition.
func (s *Server) AddQuestionnaire(q Questionnaire) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questionnaires[q.ID] = q
}

// PostStatus reports the authoritative status of a seeded post.
func (s *Server) PostStatus(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.posts[id]; ok {
		return p.Status
	}
	return ""
}

// ConversationCount reports how many conversations exist.
func (s *Server) ConversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

func (s *Server) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s%d", prefix, s.seq)
}

func (s *Server) actor(c *fiber.Ctx) User {
	id := c.Get("User-ID")
	if user, ok := s.users[id]; ok {
		return user
	}
	return User{ID: id, Username: id, Role: c.Get("User-Role")}
}

func (s *Server) consumeFailure(c *fiber.Ctx) (int, bool) {
	for key, status := range s.failures {
		method, prefix, ok := strings.Cut(key, " ")
		if !ok {
			continue
		}
		if c.Method() == method && strings.HasPrefix(c.Path(), prefix) {
			delete(s.failures, key)
			return status, true
		}
	}
	return 0, false
}

func (s *Server) viewOf(p *post, viewerID string) post {
	view := *p
	view.TotalLikes = 0
	for _, liked := range s.likes[p.ID] {
		if liked {
			view.TotalLikes++
		}
	}
	view.IsLikedByUser = s.likes[p.ID][viewerID]
	view.TotalComments = 0
	for _, cm := range s.comments {
		if cm.PostID == p.ID {
			view.TotalComments++
		}
	}
	return view
}

func (s *Server) routes() {
	s.app.Use(func(c *fiber.Ctx) error {
		s.mu.Lock()
		status, failed := s.consumeFailure(c)
		s.mu.Unlock()
		if failed {
			return c.Status(status).JSON(fiber.Map{"error": "injected failure"})
		}
		return c.Next()
	})

	s.app.Get("/forum/posts", s.listPosts)
	s.app.Post("/forum/posts", s.createPost)
	s.app.Get("/forum/posts/:id", s.getPost)
	s.app.Delete("/forum/posts/:id", s.deletePost)
	s.app.Post("/forum/posts/:id/like", s.toggleLike)
	s.app.Post("/forum/posts/:id/pin", s.togglePin)
	s.app.Post("/forum/posts/:id/approve", s.approvePost)
	s.app.Post("/forum/posts/:id/reject", s.rejectPost)
	s.app.Get("/forum/posts/:id/comments", s.listComments)
	s.app.Post("/forum/posts/:id/comments", s.createComment)
	s.app.Post("/forum/posts/:id/attachments", s.uploadAttachment)

	s.app.Get("/chat/conversations", s.listConversations)
	s.app.Post("/chat/conversations", s.createConversation)
	s.app.Get("/chat/conversations/:id/messages", s.listMessages)
	s.app.Post("/chat/messages", s.sendMessage)

	s.app.Get("/users", s.listUsers)
	s.app.Get("/questionnaires/:id", s.getQuestionnaire)
}

func (s *Server) listPosts(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := c.Query("status")
	viewer := s.actor(c)

	posts := make([]post, 0, len(s.posts))
	for _, p := range s.posts {
		if status != "" && p.Status != status {
			continue
		}
		posts = append(posts, s.viewOf(p, viewer.ID))
	}
	return c.JSON(fiber.Map{"posts": posts, "total_count": len(posts)})
}

func (s *Server) getPost(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[c.Params("id")]
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "post not found"})
	}
	return c.JSON(fiber.Map{"post": s.viewOf(p, s.actor(c).ID)})
}

func (s *Server) createPost(c *fiber.Ctx) error {
	var body struct {
		Content     string       `json:"content"`
		Attachments []attachment `json:"attachments"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed body"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	author := s.actor(c)
	status := "pending"
	if author.Role == "staff" {
		status = "posted"
	}

	id := s.nextID("p")
	p := &post{
		ID:          id,
		Content:     body.Content,
		PostedBy:    author,
		PostedAt:    time.Now().UTC(),
		Status:      status,
		Attachments: body.Attachments,
	}
	s.posts[id] = p
	s.likes[id] = make(map[string]bool)
	return c.Status(fiber.StatusCreated).JSON(s.viewOf(p, author.ID))
}

func (s *Server) deletePost(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := c.Params("id")
	if _, ok := s.posts[id]; !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "post not found"})
	}
	delete(s.posts, id)
	delete(s.likes, id)
	for cid, cm := range s.comments {
		if cm.PostID == id {
			delete(s.comments, cid)
		}
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) toggleLike(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := c.Params("id")
	if _, ok := s.posts[id]; !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "post not found"})
	}

	viewer := s.actor(c)
	s.likes[id][viewer.ID] = !s.likes[id][viewer.ID]

	view := s.viewOf(s.posts[id], viewer.ID)
	return c.JSON(fiber.Map{"total_likes": view.TotalLikes, "is_liked_by_user": view.IsLikedByUser})
}

func (s *Server) togglePin(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[c.Params("id")]
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "post not found"})
	}
	p.IsPinned = !p.IsPinned
	return c.JSON(fiber.Map{"is_pinned": p.IsPinned})
}

func (s *Server) approvePost(c *fiber.Ctx) error {
	return s.transitionPost(c, "posted")
}

func (s *Server) rejectPost(c *fiber.Ctx) error {
	return s.transitionPost(c, "rejected")
}

func (s *Server) transitionPost(c *fiber.Ctx, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[c.Params("id")]
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "post not found"})
	}
	if p.Status != "pending" {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "post is not pending"})
	}
	p.Status = target
	return c.JSON(fiber.Map{"post": s.viewOf(p, s.actor(c).ID)})
}

func (s *Server) listComments(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	postID := c.Params("id")
	comments := make([]comment, 0)
	for _, cm := range s.comments {
		if cm.PostID == postID {
			comments = append(comments, *cm)
		}
	}
	return c.JSON(fiber.Map{"comments": comments, "total_count": len(comments)})
}

func (s *Server) createComment(c *fiber.Ctx) error {
	var body struct {
		Content       string `json:"content"`
		ParentComment string `json:"parent_comment"`
	}
	if err := c.BodyParser(&body); err != nil || strings.TrimSpace(body.Content) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "comment content required"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	postID := c.Params("id")
	if _, ok := s.posts[postID]; !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "post not found"})
	}

	id := s.nextID("c")
	cm := &comment{
		ID:            id,
		PostID:        postID,
		Content:       body.Content,
		CommentFrom:   s.actor(c),
		CommentAt:     time.Now().UTC(),
		ParentComment: body.ParentComment,
	}
	s.comments[id] = cm
	return c.Status(fiber.StatusCreated).JSON(cm)
}

func (s *Server) uploadAttachment(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file required"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[c.Params("id")]
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "post not found"})
	}

	id := s.nextID("a")
	att := attachment{ID: id, Name: file.Filename, URL: "/media/" + id + "/" + file.Filename}
	p.Attachments = append(p.Attachments, att)
	return c.Status(fiber.StatusCreated).JSON(att)
}

func (s *Server) listConversations(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	viewer := s.actor(c)
	conversations := make([]conversation, 0)
	for _, conv := range s.conversations {
		for _, p := range conv.Participants {
			if p.ID == viewer.ID {
				conversations = append(conversations, *conv)
				break
			}
		}
	}
	return c.JSON(fiber.Map{"conversations": conversations})
}

func (s *Server) createConversation(c *fiber.Ctx) error {
	var body struct {
		Participant string `json:"participant"`
	}
	if err := c.BodyParser(&body); err != nil || body.Participant == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "participant required"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	viewer := s.actor(c)
	for _, conv := range s.conversations {
		if conv.ConversationType != "private" || len(conv.Participants) != 2 {
			continue
		}
		a, b := conv.Participants[0].ID, conv.Participants[1].ID
		if (a == viewer.ID && b == body.Participant) || (a == body.Participant && b == viewer.ID) {
			return c.JSON(conv)
		}
	}

	target, ok := s.users[body.Participant]
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "participant not found"})
	}

	id := s.nextID("cv")
	conv := &conversation{
		ID:               id,
		ConversationType: "private",
		Participants:     []User{viewer, target},
		UpdatedAt:        time.Now().UTC(),
	}
	s.conversations[id] = conv
	return c.Status(fiber.StatusCreated).JSON(conv)
}

func (s *Server) listMessages(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	convID := c.Params("id")
	messages := make([]message, 0)
	for _, msg := range s.messages {
		if msg.Conversation == convID {
			messages = append(messages, *msg)
		}
	}
	return c.JSON(fiber.Map{"messages": messages})
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	convID := c.FormValue("conversation")
	text := c.FormValue("text")
	questionnaireID := c.FormValue("questionnaire")
	correlation := c.FormValue("correlation")

	var att *attachment
	if file, err := c.FormFile("attachment"); err == nil {
		src, err := file.Open()
		if err == nil {
			_, _ = io.Copy(io.Discard, src)
			_ = src.Close()
		}
		s.mu.Lock()
		id := s.nextID("a")
		s.mu.Unlock()
		att = &attachment{ID: id, Name: file.Filename, URL: "/media/" + id + "/" + file.Filename}
	} else if locator := c.FormValue("attachment_locator"); locator != "" {
		s.mu.Lock()
		id := s.nextID("a")
		s.mu.Unlock()
		att = &attachment{ID: id, Name: c.FormValue("attachment_name"), URL: locator}
	}

	if text == "" && att == nil && questionnaireID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "empty message"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[convID]
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "conversation not found"})
	}

	id := s.nextID("m")
	msg := &message{
		ID:              id,
		Conversation:    convID,
		FromUser:        s.actor(c),
		Text:            text,
		Attachment:      att,
		QuestionnaireID: questionnaireID,
		CreatedAt:       time.Now().UTC(),
		Correlation:     correlation,
	}
	s.messages[id] = msg
	conv.LastMessage = msg
	conv.UpdatedAt = msg.CreatedAt
	return c.Status(fiber.StatusCreated).JSON(msg)
}

func (s *Server) listUsers(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	return c.JSON(fiber.Map{"users": users})
}

func (s *Server) getQuestionnaire(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.questionnaires[c.Params("id")]
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "questionnaire not found"})
	}
	return c.JSON(q)
}
