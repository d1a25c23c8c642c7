package fluidicconfig

// -----------------------------------------------------------------------------
// Embedded overlays
//
// Each entry is a JSON object overlaid onto bladderDefaultParams(channel)
// before publishing, the same compiled-in-then-overridden seam
// services/config uses for embeddedConfigs. Empty by default; a
// deployment fills these in (or replaces EmbeddedOverrides entirely) to
// tune calibration per physical unit without touching Go code.
// -----------------------------------------------------------------------------

var embeddedOverlays = map[int][]byte{}
