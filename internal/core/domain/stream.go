package domain

import (
	"time"
)

type StreamID string
type Category string
type Region string

const (
	CategoryVideo Category = "video"
	CategoryAudio Category = "audio"
	CategoryLive  Category = "live"
)

const (
	RegionUSEast Region = "us-east"
	RegionUSWest Region = "us-west"
	RegionEUWest Region = "eu-west"
	RegionAPEast Region = "ap-east"
	RegionSAEast Region = "sa-east"
)

// ResolutionNone is the resolution label of audio-only streams.
const ResolutionNone = "N/A"

// StreamRecord is one synthetic content stream served by the fleet.
type StreamRecord struct {
	ID             StreamID  `json:"content_id"`
	Title          string    `json:"title"`
	Category       Category  `json:"type"`
	Bitrate        int       `json:"bitrate"` // kbps
	Resolution     string    `json:"resolution"`
	CurrentViewers int       `json:"current_viewers"`
	StartTime      time.Time `json:"start_time"`
	Duration       int       `json:"duration"`     // seconds
	SegmentSize    int       `json:"segment_size"` // KB
	Region         Region    `json:"cdn_region"`
}

// BandwidthKbps is the bandwidth the stream currently draws across all viewers.
func (s StreamRecord) BandwidthKbps() int64 {
	return int64(s.Bitrate) * int64(s.CurrentViewers)
}

// CategoryMenu is the finite set of values a stream of one category may take.
type CategoryMenu struct {
	Bitrates     []int
	Resolutions  []string
	SegmentSizes []int
	Titles       []string
}

var categories = []Category{CategoryVideo, CategoryAudio, CategoryLive}

var regions = []Region{RegionUSEast, RegionUSWest, RegionEUWest, RegionAPEast, RegionSAEast}

var menus = map[Category]CategoryMenu{
	CategoryVideo: {
		Bitrates:     []int{500, 1000, 2000, 4000, 8000},
		Resolutions:  []string{"480p", "720p", "1080p", "1440p", "4K"},
		SegmentSizes: []int{128, 256, 512, 1024, 2048},
		Titles: []string{
			"Nature Documentary: Hidden Wonders",
			"Tech Talk: Future of AI",
			"Cooking Masterclass",
			"Space Exploration Series",
			"Historical Chronicles",
		},
	},
	CategoryAudio: {
		Bitrates:     []int{96, 128, 192, 320},
		Resolutions:  []string{ResolutionNone},
		SegmentSizes: []int{32, 64, 96, 128},
		Titles: []string{
			"Classical Symphony No. 9",
			"Tech Podcast Episode 42",
			"Audiobook: Science Fiction",
			"Daily News Broadcast",
			"Music Radio Stream",
		},
	},
	CategoryLive: {
		Bitrates:     []int{1000, 2000, 4000, 8000},
		Resolutions:  []string{"720p", "1080p", "1440p", "4K"},
		SegmentSizes: []int{256, 512, 1024, 2048},
		Titles: []string{
			"Live Sports Event",
			"Breaking News Coverage",
			"Live Concert Stream",
			"Gaming Tournament",
			"Live Tech Conference",
		},
	},
}

// Categories returns the closed set of stream categories in a stable order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// Regions returns the closed set of delivery regions in a stable order.
func Regions() []Region {
	out := make([]Region, len(regions))
	copy(out, regions)
	return out
}

// MenuFor returns the value menu of a category.
func MenuFor(c Category) (CategoryMenu, bool) {
	m, ok := menus[c]
	return m, ok
}

func (c Category) Valid() bool {
	_, ok := menus[c]
	return ok
}

func (r Region) Valid() bool {
	for _, known := range regions {
		if known == r {
			return true
		}
	}
	return false
}
