// Package domain models loss signals and the incident clusters fused from them.
//
// # Signals
//
// A signal is one observation of a possible property-damage event reported by
// a single channel. Ingestion adapters normalize each channel into the signal
// schema before this service sees it:
//
//	weather          NWS alerts and storm reports
//	fire_report      fire department incident reports
//	cad              computer-aided emergency dispatch calls
//	news             news articles geolocated upstream
//	commercial_fire  commercial fire-incident feeds
//
// Signals carry optional coordinates. A signal without coordinates is never
// clustered; geocoding happens upstream or not at all.
//
// Raw strength fields:
//
//	confidence_raw  source-reported confidence, nominally 0–1
//	severity_raw    source-reported severity, 0–100 in practice
//
// The two scales disagree. Suppression compares them against 0.70 and 60
// respectively, exactly as reported, without renormalizing either.
//
// # Clusters
//
// A cluster is the deduplicated record of one inferred incident. Candidate
// groups are formed by [BuildCandidates] and folded into clusters by the
// fusion engine.
//
// Confidence scoring is additive over the distinct source types present:
//
//	weather 40 | fire_report 25 | cad 20 | commercial_fire 20 | news 15   (cap 100)
//
// The verification tier is a pure function of the score:
//
//	<60 probable | 60–85 reported | ≥86 confirmed
//
// Since weather alone scores 40, a weather-only cluster can never be
// confirmed. Since contributions only add, a cluster's score never drops when
// it absorbs more signals.
//
// # Matching
//
// Two signals match when they share an event type, lie within 5 km of each
// other (haversine) and occurred within 24 hours of each other. A candidate
// merges into an existing cluster of the same event type whose time window,
// widened by 24 hours on each side, overlaps the candidate's and whose centroid
// lies within 5 km of the candidate centroid.
package domain
