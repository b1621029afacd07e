package pkg

// StaticDetails is a Details backed by plain values. It owns no native
// resource; cached packages and detached event snapshots use it.
type StaticDetails map[string]string

// Field implements Details
func (d StaticDetails) Field(name string) (string, bool) {
	v, ok := d[name]
	return v, ok
}

// Release implements Details
func (StaticDetails) Release() {}

// DescriptiveFields are the lazily resolved fields worth copying when a
// package has to outlive its native index entry.
var DescriptiveFields = []string{"Description", "Icon", "Depiction", "Homepage", "Maintainer"}

// Detach copies the descriptive fields of d into a StaticDetails.
func Detach(d Details) StaticDetails {
	out := make(StaticDetails)
	if d == nil {
		return out
	}
	for _, name := range DescriptiveFields {
		if v, ok := d.Field(name); ok && v != "" {
			out[name] = v
		}
	}
	return out
}
