// README: Common identifier and geographic point types used across modules.
package types

type ID string

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
