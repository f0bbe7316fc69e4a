package deer

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Content row layout. The mandatory columns identify the row; every
// denormalized projection lives in its own cell so that related content
// can update it without rewriting the row.
const (
	ColumnType             = "type"
	ColumnSource           = "source"
	ColumnID               = "id"
	ColumnBody             = "body"
	ColumnContainerSummary = "container_summary"

	PrefixBroadcast   = "broadcast:"
	PrefixItemRef     = "item_ref:"
	PrefixItemSummary = "item_summary:"
	PrefixAvailable   = "available:"
	PrefixUpcoming    = "upcoming:"
	PrefixSeriesRef   = "series_ref:"
)

// Equivalent content and graph row layout.
const (
	ColumnEquivalentSet = "set"
	ColumnGraph         = "graph"
	ColumnGraphID       = "graph_id"
)

// BroadcastKey names the cell a broadcast is stored in.
func BroadcastKey(b Broadcast) string {
	if b.SourceID != "" {
		return b.SourceID
	}
	return fmt.Sprintf("%s-%d", b.ChannelID, b.TransmissionTime.Unix())
}

// EquivalentContentPrefix is the prefix of a member's cells within an
// equivalent set row.
func EquivalentContentPrefix(id Id) string {
	return id.String() + ":"
}

// AliasKey is the row key of the alias index entry for one alias.
func AliasKey(source Publisher, alias Alias) string {
	return strconv.Quote(string(source)) + "|" + strconv.Quote(alias.Namespace) + "|" + strconv.Quote(alias.Value)
}

func encodeID(id Id) []byte {
	return []byte(id.String())
}

func decodeID(b []byte) (Id, error) {
	return ParseId(string(b))
}

func encodeJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	return data, nil
}
