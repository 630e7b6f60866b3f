// Package constants holds the fixed presentation values of gitchunk: the
// banner printed by --logo and the tagline shown under it.
package constants
