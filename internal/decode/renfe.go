package decode

import (
	"fmt"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
)

// RenfeJSON decodes Renfe's JSON rendition of GTFS-RT. Entities carry the
// protobuf field semantics verbatim, so the protojson mapping reads them
// straight into the bindings; translated strings come out per language
// with Spanish preferred.
type RenfeJSON struct {
	PlatformRule string
}

func (d *RenfeJSON) Decode(kind FeedKind, body []byte, now time.Time) (*Entities, error) {
	feed := &gtfs.FeedMessage{}
	um := protojson.UnmarshalOptions{AllowPartial: true, DiscardUnknown: true}
	if err := um.Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("%w: parse renfe json: %v", ErrDecodeFailure, err)
	}
	return walkFeed(feed, d.PlatformRule), nil
}
