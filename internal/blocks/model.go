package blocks

import (
	"errors"
	"sort"
)

// BlockType names a block variant on the wire.
type BlockType string

const (
	TypeParagraph BlockType = "paragraph"
	TypeHeading   BlockType = "heading"
	TypeImage     BlockType = "image"
	TypeVideo     BlockType = "video"
	TypeList      BlockType = "list"
	TypeQuote     BlockType = "quote"
	TypeCode      BlockType = "code"
	TypeSeparator BlockType = "separator"
	TypeNote      BlockType = "note"
	TypeDialogue  BlockType = "dialogue"
)

// KnownTypes lists every variant the editor can create, in palette order.
var KnownTypes = []BlockType{
	TypeParagraph,
	TypeHeading,
	TypeImage,
	TypeVideo,
	TypeList,
	TypeQuote,
	TypeCode,
	TypeSeparator,
	TypeNote,
	TypeDialogue,
}

var (
	// ErrUnknownBlockType is returned when a caller asks for a variant that does not exist.
	ErrUnknownBlockType = errors.New("blocks: unknown block type")
	// ErrBlockNotFound is returned when an editor operation targets a missing block id.
	ErrBlockNotFound = errors.New("blocks: block not found")
	// ErrContentTypeMismatch is returned when replacement content belongs to another variant.
	ErrContentTypeMismatch = errors.New("blocks: content type does not match block type")
)

// ParseBlockType validates a raw type name.
func ParseBlockType(raw string) (BlockType, error) {
	candidate := BlockType(raw)
	for _, known := range KnownTypes {
		if known == candidate {
			return candidate, nil
		}
	}
	return "", ErrUnknownBlockType
}

// Content is the variant payload of a block. The set of implementations is closed.
type Content interface {
	Type() BlockType
	isContent()
}

// Block is one unit of structured document content.
type Block struct {
	ID      string
	Order   float64
	Content Content
}

// Type reports the variant of the block, including unknown variants read from storage.
func (b Block) Type() BlockType {
	if b.Content == nil {
		return ""
	}
	return b.Content.Type()
}

type Alignment string

const (
	AlignLeft   Alignment = "left"
	AlignCenter Alignment = "center"
	AlignRight  Alignment = "right"
)

// Normalize maps missing or unknown values to left.
func (a Alignment) Normalize() Alignment {
	switch a {
	case AlignCenter, AlignRight:
		return a
	default:
		return AlignLeft
	}
}

type ImageSize string

const (
	SizeSmall  ImageSize = "small"
	SizeMedium ImageSize = "medium"
	SizeLarge  ImageSize = "large"
	SizeFull   ImageSize = "full"
)

// Normalize maps missing or unknown values to medium.
func (s ImageSize) Normalize() ImageSize {
	switch s {
	case SizeSmall, SizeLarge, SizeFull:
		return s
	default:
		return SizeMedium
	}
}

type ListStyle string

const (
	ListBullet   ListStyle = "bullet"
	ListNumbered ListStyle = "numbered"
)

type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// TextStyle holds the formatting shared by paragraph, heading and note blocks.
type TextStyle struct {
	Text            string    `json:"text"`
	FontSize        string    `json:"fontSize"`
	Color           string    `json:"color"`
	BackgroundColor string    `json:"backgroundColor"`
	Bold            bool      `json:"bold"`
	Italic          bool      `json:"italic"`
	Underline       bool      `json:"underline"`
	Alignment       Alignment `json:"alignment"`
}

type Paragraph struct {
	TextStyle
}

type Heading struct {
	TextStyle
	Level       int    `json:"level"`
	DesignStyle int    `json:"design_style"`
	Color1      string `json:"color1"`
	Color2      string `json:"color2"`
	Color3      string `json:"color3"`
}

// NormalizedLevel clamps the heading level to 1..4.
func (h Heading) NormalizedLevel() int {
	return clampRange(h.Level, 1, 4)
}

// NormalizedDesignStyle clamps the design preset to 1..4.
func (h Heading) NormalizedDesignStyle() int {
	return clampRange(h.DesignStyle, 1, 4)
}

type Image struct {
	URL         string    `json:"url"`
	Alt         string    `json:"alt"`
	Caption     string    `json:"caption"`
	Size        ImageSize `json:"size"`
	Alignment   Alignment `json:"alignment"`
	LinkURL     string    `json:"linkUrl,omitempty"`
	HoverEffect bool      `json:"hoverEffect"`
	Rounded     bool      `json:"rounded"`
}

type Video struct {
	URL         string    `json:"url"`
	Caption     string    `json:"caption"`
	BorderColor string    `json:"borderColor"`
	Size        ImageSize `json:"size"`
	Alignment   Alignment `json:"alignment"`
}

type List struct {
	Items []string  `json:"items"`
	Style ListStyle `json:"type"`
}

type Quote struct {
	Text            string `json:"text"`
	Author          string `json:"author"`
	BackgroundColor string `json:"backgroundColor"`
}

type Code struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type Separator struct{}

type Note struct {
	TextStyle
}

type DialogueItem struct {
	Alignment Side   `json:"alignment"`
	Text      string `json:"text"`
}

type Dialogue struct {
	LeftIcon              string         `json:"leftIcon"`
	RightIcon             string         `json:"rightIcon"`
	LeftName              string         `json:"leftName"`
	RightName             string         `json:"rightName"`
	BubbleBackgroundColor string         `json:"bubbleBackgroundColor"`
	Items                 []DialogueItem `json:"items"`
}

// UnknownContent keeps a block whose type this build does not understand.
type UnknownContent struct {
	Kind string
	Raw  []byte
}

func (Paragraph) Type() BlockType { return TypeParagraph }
func (Heading) Type() BlockType   { return TypeHeading }
func (Image) Type() BlockType     { return TypeImage }
func (Video) Type() BlockType     { return TypeVideo }
func (List) Type() BlockType      { return TypeList }
func (Quote) Type() BlockType     { return TypeQuote }
func (Code) Type() BlockType      { return TypeCode }
func (Separator) Type() BlockType { return TypeSeparator }
func (Note) Type() BlockType      { return TypeNote }
func (Dialogue) Type() BlockType  { return TypeDialogue }

func (u UnknownContent) Type() BlockType { return BlockType(u.Kind) }

func (Paragraph) isContent()      {}
func (Heading) isContent()        {}
func (Image) isContent()          {}
func (Video) isContent()          {}
func (List) isContent()           {}
func (Quote) isContent()          {}
func (Code) isContent()           {}
func (Separator) isContent()      {}
func (Note) isContent()           {}
func (Dialogue) isContent()       {}
func (UnknownContent) isContent() {}

const (
	defaultTextColor     = "#454545"
	defaultPlaceholder   = "/placeholder.svg"
	defaultBubbleColor   = "#f2f2f2"
	defaultQuoteColor    = "#f3f4f6"
	defaultVideoBorder   = "#000000"
	defaultCodeLanguage  = "javascript"
	defaultBodyFontSize  = "16px"
	defaultTitleFontSize = "24px"
)

// DefaultContent returns the content a freshly added block of the given type starts with.
func DefaultContent(blockType BlockType) (Content, error) {
	switch blockType {
	case TypeParagraph:
		style := defaultTextStyle(defaultBodyFontSize)
		style.BackgroundColor = "transparent"
		return Paragraph{TextStyle: style}, nil
	case TypeHeading:
		return Heading{
			TextStyle:   defaultTextStyle(defaultTitleFontSize),
			Level:       1,
			DesignStyle: 1,
			Color1:      "#2589d0",
			Color2:      "#f2f2f2",
			Color3:      "#333333",
		}, nil
	case TypeImage:
		return Image{Size: SizeMedium, Alignment: AlignLeft, HoverEffect: true, Rounded: true}, nil
	case TypeVideo:
		return Video{BorderColor: defaultVideoBorder, Size: SizeMedium, Alignment: AlignLeft}, nil
	case TypeList:
		return List{Items: []string{""}, Style: ListBullet}, nil
	case TypeQuote:
		return Quote{BackgroundColor: defaultQuoteColor}, nil
	case TypeCode:
		return Code{Language: defaultCodeLanguage}, nil
	case TypeSeparator:
		return Separator{}, nil
	case TypeNote:
		return Note{TextStyle: defaultTextStyle(defaultBodyFontSize)}, nil
	case TypeDialogue:
		return Dialogue{
			LeftIcon:              defaultPlaceholder,
			RightIcon:             defaultPlaceholder,
			LeftName:              "左の名前",
			RightName:             "右の名前",
			BubbleBackgroundColor: defaultBubbleColor,
			Items:                 []DialogueItem{{Alignment: SideLeft, Text: "これは会話風の吹き出しです。"}},
		}, nil
	default:
		return nil, ErrUnknownBlockType
	}
}

func defaultTextStyle(fontSize string) TextStyle {
	return TextStyle{
		FontSize:  fontSize,
		Color:     defaultTextColor,
		Alignment: AlignLeft,
	}
}

// Sorted returns a copy ordered by Order, keeping the original position for ties.
func Sorted(document []Block) []Block {
	sorted := make([]Block, len(document))
	copy(sorted, document)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})
	return sorted
}

func clampRange(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
