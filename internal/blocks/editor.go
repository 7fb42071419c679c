package blocks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Direction selects the neighbour a block is swapped with.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// UploadSlot names the content field a file upload is written into.
type UploadSlot string

const (
	SlotImage     UploadSlot = "image"
	SlotVideo     UploadSlot = "video"
	SlotLeftIcon  UploadSlot = "leftIcon"
	SlotRightIcon UploadSlot = "rightIcon"
)

const (
	previewTextLimit = 30
	previewListLimit = 20
)

var (
	// ErrUnsupportedSlot is returned when a block has no file field for the requested slot.
	ErrUnsupportedSlot = errors.New("blocks: block does not accept uploads in this slot")
	// ErrInvalidDirection is returned for move directions other than up and down.
	ErrInvalidDirection = errors.New("blocks: invalid move direction")
	// ErrUploaderUnavailable is returned when uploads are attempted without an uploader.
	ErrUploaderUnavailable = errors.New("blocks: uploader unavailable")
)

// Upload is a file selected for a block.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Uploader stores a file and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, upload Upload) (string, error)
}

// IDSource returns fresh block identifiers.
type IDSource func() (string, error)

// EditorConfig wires an editor's collaborators.
type EditorConfig struct {
	IDs      IDSource
	Uploader Uploader
}

// Editor owns the working copy of one document. It is not safe for concurrent use.
type Editor struct {
	document  []Block
	collapsed map[string]struct{}
	ids       IDSource
	uploader  Uploader
}

// NewEditor starts an editing session over a copy of document.
func NewEditor(document []Block, cfg EditorConfig) (*Editor, error) {
	if cfg.IDs == nil {
		return nil, errors.New("blocks: id source is required")
	}
	working := make([]Block, len(document))
	copy(working, document)
	return &Editor{
		document:  working,
		collapsed: make(map[string]struct{}),
		ids:       cfg.IDs,
		uploader:  cfg.Uploader,
	}, nil
}

// Document returns a copy of the working sequence in array order.
func (e *Editor) Document() []Block {
	snapshot := make([]Block, len(e.document))
	copy(snapshot, e.document)
	return snapshot
}

// Add appends a block of the given type with its default content.
func (e *Editor) Add(blockType BlockType) (Block, error) {
	content, err := DefaultContent(blockType)
	if err != nil {
		return Block{}, err
	}
	id, err := e.ids()
	if err != nil {
		return Block{}, fmt.Errorf("blocks: new id: %w", err)
	}
	block := Block{ID: id, Order: float64(len(e.document)), Content: content}
	e.document = append(e.document, block)
	return block, nil
}

// Update replaces the content of a block wholesale. The variant cannot change.
func (e *Editor) Update(id string, content Content) (Block, error) {
	index := e.indexOf(id)
	if index < 0 {
		return Block{}, ErrBlockNotFound
	}
	if content == nil || content.Type() != e.document[index].Type() {
		return Block{}, ErrContentTypeMismatch
	}
	e.document[index].Content = content
	return e.document[index], nil
}

// Delete removes a block. Sibling orders are left untouched.
func (e *Editor) Delete(id string) error {
	index := e.indexOf(id)
	if index < 0 {
		return ErrBlockNotFound
	}
	e.document = append(e.document[:index], e.document[index+1:]...)
	delete(e.collapsed, id)
	return nil
}

// Duplicate clones a block and places the copy directly behind its source.
// The copy takes an order between the source and the next block; when the
// next block shares the source's order the tail is renumbered to make room.
func (e *Editor) Duplicate(id string) (Block, error) {
	index := e.indexOf(id)
	if index < 0 {
		return Block{}, ErrBlockNotFound
	}
	newID, err := e.ids()
	if err != nil {
		return Block{}, fmt.Errorf("blocks: new id: %w", err)
	}
	source := e.document[index]
	clone := Block{ID: newID, Content: cloneContent(source.Content)}

	next := make([]Block, 0, len(e.document)+1)
	next = append(next, e.document[:index+1]...)
	next = append(next, clone)
	next = append(next, e.document[index+1:]...)
	placeAfter(next, index)
	e.document = next
	return next[index+1], nil
}

// placeAfter assigns the order of the block at position+1, which sits between
// the source at position and its former successor.
func placeAfter(document []Block, position int) {
	source := document[position].Order
	if position+2 >= len(document) {
		document[position+1].Order = source + 0.5
		return
	}
	successor := document[position+2].Order
	switch {
	case successor > source+0.5:
		document[position+1].Order = source + 0.5
	case successor > source:
		document[position+1].Order = source + (successor-source)/2
	default:
		previous := source + 1
		document[position+1].Order = previous
		for i := position + 2; i < len(document); i++ {
			if document[i].Order <= previous {
				document[i].Order = previous + 1
			}
			previous = document[i].Order
		}
	}
}

// Move swaps a block with its array neighbour. The two blocks also trade
// order values so the new position survives a save. Moving past either end
// is a no-op.
func (e *Editor) Move(id string, direction Direction) error {
	index := e.indexOf(id)
	if index < 0 {
		return ErrBlockNotFound
	}
	var target int
	switch direction {
	case DirectionUp:
		target = index - 1
	case DirectionDown:
		target = index + 1
	default:
		return ErrInvalidDirection
	}
	if target < 0 || target >= len(e.document) {
		return nil
	}
	current, neighbour := e.document[index], e.document[target]
	current.Order, neighbour.Order = neighbour.Order, current.Order
	e.document[index], e.document[target] = neighbour, current
	return nil
}

// ToggleCollapse flips the collapsed state of a block and reports the new state.
func (e *Editor) ToggleCollapse(id string) (bool, error) {
	if e.indexOf(id) < 0 {
		return false, ErrBlockNotFound
	}
	if _, ok := e.collapsed[id]; ok {
		delete(e.collapsed, id)
		return false, nil
	}
	e.collapsed[id] = struct{}{}
	return true, nil
}

// IsCollapsed reports whether a block is shown as a preview line.
func (e *Editor) IsCollapsed(id string) bool {
	_, ok := e.collapsed[id]
	return ok
}

// AttachUpload stores a file through the uploader and writes the returned URL
// into the block field named by slot. A failed upload leaves the block as it was.
func (e *Editor) AttachUpload(ctx context.Context, id string, slot UploadSlot, upload Upload) (Block, error) {
	index := e.indexOf(id)
	if index < 0 {
		return Block{}, ErrBlockNotFound
	}
	if !acceptsSlot(e.document[index].Content, slot) {
		return Block{}, ErrUnsupportedSlot
	}
	if e.uploader == nil {
		return Block{}, ErrUploaderUnavailable
	}
	publicURL, err := e.uploader.Upload(ctx, upload)
	if err != nil {
		return Block{}, err
	}
	updated, err := withUploadedURL(e.document[index].Content, slot, publicURL)
	if err != nil {
		return Block{}, err
	}
	e.document[index].Content = updated
	return e.document[index], nil
}

func acceptsSlot(content Content, slot UploadSlot) bool {
	_, err := withUploadedURL(content, slot, "")
	return err == nil
}

func withUploadedURL(content Content, slot UploadSlot, publicURL string) (Content, error) {
	switch value := content.(type) {
	case Image:
		if slot == SlotImage {
			value.URL = publicURL
			return value, nil
		}
	case Video:
		if slot == SlotVideo {
			value.URL = publicURL
			return value, nil
		}
	case Dialogue:
		switch slot {
		case SlotLeftIcon:
			value.LeftIcon = publicURL
			return value, nil
		case SlotRightIcon:
			value.RightIcon = publicURL
			return value, nil
		}
	}
	return nil, ErrUnsupportedSlot
}

func (e *Editor) indexOf(id string) int {
	for index, block := range e.document {
		if block.ID == id {
			return index
		}
	}
	return -1
}

// cloneContent copies the slices held by content so a duplicate can be edited
// independently of its source.
func cloneContent(content Content) Content {
	switch value := content.(type) {
	case List:
		value.Items = append([]string(nil), value.Items...)
		return value
	case Dialogue:
		value.Items = append([]DialogueItem(nil), value.Items...)
		return value
	case UnknownContent:
		value.Raw = append([]byte(nil), value.Raw...)
		return value
	default:
		return content
	}
}

// Preview renders the one-line summary shown for a collapsed block.
func Preview(block Block) string {
	switch content := block.Content.(type) {
	case Heading:
		return "見出し: " + previewSnippet(content.Text, previewTextLimit)
	case Paragraph:
		return "段落: " + previewSnippet(content.Text, previewTextLimit)
	case Image:
		label := content.Alt
		if label == "" {
			label = content.URL[strings.LastIndex(content.URL, "/")+1:]
		}
		return "画像: " + label
	case Video:
		return "動画: " + content.URL
	case List:
		first := ""
		if len(content.Items) > 0 {
			first = content.Items[0]
		}
		return "リスト: " + previewSnippet(first, previewListLimit)
	case Quote:
		return "引用: " + previewSnippet(content.Text, previewTextLimit)
	case Separator:
		return "区切り線"
	case Note:
		return "注意事項: " + previewSnippet(content.Text, previewTextLimit)
	default:
		return string(block.Type())
	}
}

func previewSnippet(text string, limit int) string {
	return truncateRunes(strings.Join(strings.Fields(text), " "), limit, "...")
}
