// Package event holds the immutable event configuration: the ordered
// schedule of talks, breaks and announcements, the display template
// settings, and the TOML loaders for event and rig definitions.
package event
