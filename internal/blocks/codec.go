package blocks

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
)

const legacyIDPrefix = "legacy-"

type wireBlock struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
	Order   float64         `json:"order"`
}

// Encode serializes a document into the string stored in content columns.
func Encode(document []Block) (string, error) {
	wire := make([]wireBlock, 0, len(document))
	for _, block := range document {
		if block.Content == nil {
			return "", fmt.Errorf("blocks: block %q has no content", block.ID)
		}
		payload, err := encodeContent(block.Content)
		if err != nil {
			return "", fmt.Errorf("blocks: encode %q: %w", block.ID, err)
		}
		wire = append(wire, wireBlock{
			ID:      block.ID,
			Type:    string(block.Content.Type()),
			Content: payload,
			Order:   block.Order,
		})
	}
	encoded, err := json.Marshal(wire)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func encodeContent(content Content) (json.RawMessage, error) {
	if unknown, ok := content.(UnknownContent); ok {
		if len(unknown.Raw) == 0 {
			return json.RawMessage("{}"), nil
		}
		return json.RawMessage(unknown.Raw), nil
	}
	return json.Marshal(content)
}

// Decode parses a stored content string. Anything that is not a JSON array of
// block objects is legacy plain text and becomes a single paragraph.
func Decode(raw string) []Block {
	document, ok := decodeDocument(raw)
	if !ok {
		return []Block{LegacyParagraph(raw)}
	}
	return document
}

// IsBlockDocument reports whether raw is already in block form.
func IsBlockDocument(raw string) bool {
	_, ok := decodeDocument(raw)
	return ok
}

// LegacyParagraph wraps plain text into the synthetic paragraph used for old rows.
func LegacyParagraph(text string) Block {
	digest := sha1.Sum([]byte(text))
	return Block{
		ID:    legacyIDPrefix + hex.EncodeToString(digest[:6]),
		Order: 0,
		Content: Paragraph{TextStyle: TextStyle{
			Text: text,
		}},
	}
}

func decodeDocument(raw string) ([]Block, bool) {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		return nil, false
	}
	document := make([]Block, 0, len(elements))
	for index, element := range elements {
		block, ok := decodeBlock(element, index)
		if !ok {
			return nil, false
		}
		document = append(document, block)
	}
	return document, true
}

func decodeBlock(element json.RawMessage, index int) (Block, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(element, &fields); err != nil || fields == nil {
		return Block{}, false
	}
	var kind string
	if err := json.Unmarshal(fields["type"], &kind); err != nil || kind == "" {
		return Block{}, false
	}
	block := Block{
		ID:    decodeID(fields["id"], index),
		Order: decodeOrder(fields["order"], index),
	}
	block.Content = decodeContent(BlockType(kind), fields["content"])
	return block, true
}

func decodeID(raw json.RawMessage, index int) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil && text != "" {
		return text
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil && number != "" {
		return number.String()
	}
	return "block-" + strconv.Itoa(index)
}

func decodeOrder(raw json.RawMessage, index int) float64 {
	var order float64
	if err := json.Unmarshal(raw, &order); err == nil {
		return order
	}
	return float64(index)
}

// DecodeContent parses the content object of one block of a known type with
// the same lenient field rules as Decode.
func DecodeContent(kind BlockType, raw json.RawMessage) (Content, error) {
	if _, err := ParseBlockType(string(kind)); err != nil {
		return nil, err
	}
	return decodeContent(kind, raw), nil
}

func decodeContent(kind BlockType, raw json.RawMessage) Content {
	fields := newFieldSet(raw)
	switch kind {
	case TypeParagraph:
		return Paragraph{TextStyle: fields.textStyle()}
	case TypeHeading:
		return Heading{
			TextStyle:   fields.textStyle(),
			Level:       fields.integer("level", 1),
			DesignStyle: fields.integer("design_style", 1),
			Color1:      fields.str("color1"),
			Color2:      fields.str("color2"),
			Color3:      fields.str("color3"),
		}
	case TypeImage:
		return Image{
			URL:         fields.str("url"),
			Alt:         fields.str("alt"),
			Caption:     fields.str("caption"),
			Size:        ImageSize(fields.str("size")),
			Alignment:   Alignment(fields.str("alignment")),
			LinkURL:     fields.str("linkUrl"),
			HoverEffect: fields.boolean("hoverEffect", true),
			Rounded:     fields.boolean("rounded", true),
		}
	case TypeVideo:
		return Video{
			URL:         fields.str("url"),
			Caption:     fields.str("caption"),
			BorderColor: fields.str("borderColor"),
			Size:        ImageSize(fields.str("size")),
			Alignment:   Alignment(fields.str("alignment")),
		}
	case TypeList:
		return List{
			Items: fields.strings("items"),
			Style: ListStyle(fields.str("type")),
		}
	case TypeQuote:
		return Quote{
			Text:            fields.str("text"),
			Author:          fields.str("author"),
			BackgroundColor: fields.str("backgroundColor"),
		}
	case TypeCode:
		return Code{
			Code:     fields.str("code"),
			Language: fields.str("language"),
		}
	case TypeSeparator:
		return Separator{}
	case TypeNote:
		return Note{TextStyle: fields.textStyle()}
	case TypeDialogue:
		return Dialogue{
			LeftIcon:              fields.str("leftIcon"),
			RightIcon:             fields.str("rightIcon"),
			LeftName:              fields.str("leftName"),
			RightName:             fields.str("rightName"),
			BubbleBackgroundColor: fields.str("bubbleBackgroundColor"),
			Items:                 fields.dialogueItems("items"),
		}
	default:
		payload := []byte(raw)
		if len(payload) == 0 {
			payload = []byte("{}")
		}
		return UnknownContent{Kind: string(kind), Raw: append([]byte(nil), payload...)}
	}
}

// fieldSet reads content fields one by one so a single malformed value
// degrades to its default instead of rejecting the block.
type fieldSet map[string]json.RawMessage

func newFieldSet(raw json.RawMessage) fieldSet {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return fieldSet{}
	}
	return fields
}

func (f fieldSet) str(key string) string {
	raw, ok := f[key]
	if !ok {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err == nil {
		return value
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		return number.String()
	}
	return ""
}

func (f fieldSet) boolean(key string, fallback bool) bool {
	raw, ok := f[key]
	if !ok {
		return fallback
	}
	var value bool
	if err := json.Unmarshal(raw, &value); err != nil {
		return fallback
	}
	return value
}

func (f fieldSet) integer(key string, fallback int) int {
	raw, ok := f[key]
	if !ok {
		return fallback
	}
	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return int(number)
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if parsed, err := strconv.Atoi(text); err == nil {
			return parsed
		}
	}
	return fallback
}

func (f fieldSet) strings(key string) []string {
	raw, ok := f[key]
	if !ok {
		return nil
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil || elements == nil {
		return nil
	}
	values := make([]string, 0, len(elements))
	for _, element := range elements {
		var value string
		if err := json.Unmarshal(element, &value); err != nil {
			continue
		}
		values = append(values, value)
	}
	return values
}

func (f fieldSet) dialogueItems(key string) []DialogueItem {
	raw, ok := f[key]
	if !ok {
		return nil
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil || elements == nil {
		return nil
	}
	items := make([]DialogueItem, 0, len(elements))
	for _, element := range elements {
		item := newFieldSet(element)
		items = append(items, DialogueItem{
			Alignment: Side(item.str("alignment")),
			Text:      item.str("text"),
		})
	}
	return items
}

func (f fieldSet) textStyle() TextStyle {
	return TextStyle{
		Text:            f.str("text"),
		FontSize:        f.str("fontSize"),
		Color:           f.str("color"),
		BackgroundColor: f.str("backgroundColor"),
		Bold:            f.boolean("bold", false),
		Italic:          f.boolean("italic", false),
		Underline:       f.boolean("underline", false),
		Alignment:       Alignment(f.str("alignment")),
	}
}
