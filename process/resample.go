package process

import "github.com/pdok/tegel/pyramid"

// Nearest resamples opaque payloads without touching the data: upsampling
// reuses the parent's payload, downsampling mosaics the children's data in
// row-major order under the first child's schema. Drivers that understand
// their payload encoding provide proper resampling instead.
type Nearest struct{}

func (Nearest) Upsample(parent TileData, _ pyramid.Tile, _ string) (*Payload, error) {
	if parent.Payload == nil {
		return nil, ErrEmptyTile
	}
	payload := *parent.Payload
	return &payload, nil
}

func (Nearest) Downsample(children []TileData, _ pyramid.Tile, _ string) (*Payload, error) {
	if len(children) == 0 {
		return nil, ErrEmptyTile
	}
	first := children[0].Payload
	payload := Payload{Bands: first.Bands, DType: first.DType, GeometryType: first.GeometryType}
	for _, child := range children {
		payload.Data = append(payload.Data, child.Payload.Data...)
	}
	return &payload, nil
}
