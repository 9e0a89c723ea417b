package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/parkside-ed/engage-sync-go/internal/entity"
	"github.com/parkside-ed/engage-sync-go/internal/gateway"
	"github.com/parkside-ed/engage-sync-go/internal/questionnaire"
)

var (
	// ErrEmptyDraft indicates a send attempt with no text, no attachment and
	// no questionnaire reference. Caught before any network call.
	ErrEmptyDraft = errors.New("draft has no content")
	// ErrPrimaryConflict indicates an attempt to stage a second non-text
	// primary payload on one message.
	ErrPrimaryConflict = errors.New("message already carries a primary payload")
	// ErrAttachmentTooLarge indicates a staged file above the upload bound.
	ErrAttachmentTooLarge = errors.New("staged attachment exceeds size limit")
)

const maxAttachmentBytes = 10 << 20

// Uploader pushes a staged file to external storage and returns its opaque
// retrieval locator. Optional: without one, attachments travel to the
// backend as multipart uploads.
type Uploader interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// questionnaireGateway is the fetch surface the composer needs.
type questionnaireGateway interface {
	GetQuestionnaire(ctx context.Context, actor entity.Identity, questionnaireID string) (entity.Questionnaire, error)
}

type messageDraft struct {
	ConversationID string `validate:"required"`
	Text           string `validate:"max=4000"`
}

// MessageComposer assembles one outgoing message from heterogeneous optional
// parts and hands a single well-formed payload to the mutation engine. Its
// pending state survives a failed send and clears only once the engine has
// confirmed local cache insertion.
type MessageComposer struct {
	engine    *Engine
	gw        questionnaireGateway
	qvalidate *questionnaire.Validator
	validate  *validator.Validate
	sanitizer *bluemonday.Policy
	uploader  Uploader
	logger    zerolog.Logger

	mu              sync.Mutex
	text            string
	attachment      *gateway.StagedAttachment
	questionnaireID string
}

// NewMessageComposer constructs a message composer. The uploader may be nil.
func NewMessageComposer(engine *Engine, gw questionnaireGateway, qvalidate *questionnaire.Validator, validate *validator.Validate, uploader Uploader, logger zerolog.Logger) *MessageComposer {
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("br")

	return &MessageComposer{
		engine:    engine,
		gw:        gw,
		qvalidate: qvalidate,
		validate:  validate,
		sanitizer: policy,
		uploader:  uploader,
		logger:    logger.With().Str("component", "message_composer").Logger(),
	}
}

// SetText stages the free-text part of the draft.
func (c *MessageComposer) SetText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = text
}

// StageAttachment stages a single file, sniffing its content type. The
// attachment is the message's primary payload; it cannot coexist with a
// staged questionnaire.
func (c *MessageComposer) StageAttachment(name string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.questionnaireID != "" {
		return ErrPrimaryConflict
	}
	if len(data) > maxAttachmentBytes {
		return fmt.Errorf("%s: %w", name, ErrAttachmentTooLarge)
	}

	mime := mimetype.Detect(data)
	c.attachment = &gateway.StagedAttachment{
		Name:        name,
		ContentType: mime.String(),
		Data:        data,
	}
	return nil
}

// StageQuestionnaire fetches the questionnaire, validates its structure
// against the embedded schema and stages the reference. A staged attachment
// blocks it, as only one primary payload is modeled per message.
func (c *MessageComposer) StageQuestionnaire(ctx context.Context, actor entity.Identity, questionnaireID string) error {
	c.mu.Lock()
	if c.attachment != nil {
		c.mu.Unlock()
		return ErrPrimaryConflict
	}
	c.mu.Unlock()

	q, err := c.gw.GetQuestionnaire(ctx, actor, questionnaireID)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("failed to encode questionnaire %s: %w", questionnaireID, err)
	}
	var doc any
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode questionnaire %s: %w", questionnaireID, err)
	}
	if err := c.qvalidate.Validate(doc); err != nil {
		return err
	}

	c.mu.Lock()
	c.questionnaireID = questionnaireID
	c.mu.Unlock()
	return nil
}

// ClearAttachment drops the staged file.
func (c *MessageComposer) ClearAttachment() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachment = nil
}

// ClearQuestionnaire drops the staged questionnaire reference.
func (c *MessageComposer) ClearQuestionnaire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.questionnaireID = ""
}

// Send validates the draft, assembles the gateway payload and hands it to
// the engine. Pending state clears only after the engine confirms the local
// cache insertion, so a transient failure never loses user input.
func (c *MessageComposer) Send(ctx context.Context, actor entity.Identity, conversationID string) (entity.Message, error) {
	c.mu.Lock()
	text := strings.TrimSpace(c.sanitizer.Sanitize(c.text))
	attachment := c.attachment
	questionnaireID := c.questionnaireID
	c.mu.Unlock()

	if text == "" && attachment == nil && questionnaireID == "" {
		return entity.Message{}, ErrEmptyDraft
	}

	draft := messageDraft{ConversationID: conversationID, Text: text}
	if err := c.validate.Struct(draft); err != nil {
		return entity.Message{}, err
	}

	input := gateway.SendMessageInput{
		ConversationID:  conversationID,
		Text:            text,
		QuestionnaireID: questionnaireID,
	}

	if attachment != nil {
		if c.uploader != nil {
			locator, err := c.uploader.Upload(ctx, attachment.Name, bytes.NewReader(attachment.Data))
			if err != nil {
				return entity.Message{}, fmt.Errorf("failed to upload attachment %s: %w", attachment.Name, err)
			}
			input.AttachmentLocator = &entity.AttachmentRef{Name: attachment.Name, Locator: locator}
		} else {
			input.Attachment = attachment
		}
	}

	message, err := c.engine.SendMessage(ctx, actor, input)
	if err != nil {
		return entity.Message{}, err
	}

	c.Reset()
	return message, nil
}

// Reset clears all pending state.
func (c *MessageComposer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = ""
	c.attachment = nil
	c.questionnaireID = ""
}

// PostComposer assembles one outgoing forum post. Posts may carry several
// attachments, so staging is additive.
type PostComposer struct {
	engine    *Engine
	validate  *validator.Validate
	sanitizer *bluemonday.Policy
	uploader  Uploader
	logger    zerolog.Logger

	mu          sync.Mutex
	body        string
	attachments []gateway.StagedAttachment
}

type postDraft struct {
	Body string `validate:"max=8000"`
}

// NewPostComposer constructs a post composer. The uploader may be nil.
func NewPostComposer(engine *Engine, validate *validator.Validate, uploader Uploader, logger zerolog.Logger) *PostComposer {
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("br")

	return &PostComposer{
		engine:    engine,
		validate:  validate,
		sanitizer: policy,
		uploader:  uploader,
		logger:    logger.With().Str("component", "post_composer").Logger(),
	}
}

// SetBody stages the post text.
func (c *PostComposer) SetBody(body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.body = body
}

// StageAttachment adds a file to the draft.
func (c *PostComposer) StageAttachment(name string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(data) > maxAttachmentBytes {
		return fmt.Errorf("%s: %w", name, ErrAttachmentTooLarge)
	}

	mime := mimetype.Detect(data)
	c.attachments = append(c.attachments, gateway.StagedAttachment{
		Name:        name,
		ContentType: mime.String(),
		Data:        data,
	})
	return nil
}

// Submit validates the draft and creates the post through the engine,
// clearing pending state only after the cache insertion is confirmed.
func (c *PostComposer) Submit(ctx context.Context, actor entity.Identity) (entity.Post, error) {
	c.mu.Lock()
	body := strings.TrimSpace(c.sanitizer.Sanitize(c.body))
	attachments := make([]gateway.StagedAttachment, len(c.attachments))
	copy(attachments, c.attachments)
	c.mu.Unlock()

	if body == "" && len(attachments) == 0 {
		return entity.Post{}, ErrEmptyDraft
	}

	if err := c.validate.Struct(postDraft{Body: body}); err != nil {
		return entity.Post{}, err
	}

	input := gateway.CreatePostInput{Body: body}
	if c.uploader != nil {
		for _, att := range attachments {
			locator, err := c.uploader.Upload(ctx, att.Name, bytes.NewReader(att.Data))
			if err != nil {
				return entity.Post{}, fmt.Errorf("failed to upload attachment %s: %w", att.Name, err)
			}
			input.AttachmentLocators = append(input.AttachmentLocators, entity.AttachmentRef{Name: att.Name, Locator: locator})
		}
	} else {
		input.Attachments = attachments
	}

	post, err := c.engine.CreatePost(ctx, actor, input)
	if err != nil {
		return entity.Post{}, err
	}

	c.mu.Lock()
	c.body = ""
	c.attachments = nil
	c.mu.Unlock()
	return post, nil
}
