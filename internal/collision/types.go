package collision

// Vector3 represents a 3D vector
type Vector3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Add returns v + o.
func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Scale returns v * s.
func (v Vector3) Scale(s float32) Vector3 {
	return Vector3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Color is a linear RGB triple as written by the simulation.
type Color struct {
	R float32 `json:"r"`
	G float32 `json:"g"`
	B float32 `json:"b"`
}

// Event is one decoded collision record. Values are copied out of the
// readback payload and never alias it.
type Event struct {
	Position Vector3 `json:"position"`
	Normal   Vector3 `json:"normal"`
	Color    Color   `json:"color"`
}

// Consumer receives collision events in record order.
type Consumer interface {
	OnCollision(position, normal Vector3, color Color)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(position, normal Vector3, color Color)

// OnCollision calls f.
func (f ConsumerFunc) OnCollision(position, normal Vector3, color Color) {
	f(position, normal, color)
}
