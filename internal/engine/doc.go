// Package engine syncs Acuite streams. Each top-level stream (companies,
// locations, people, projects) has a sync function that fetches its records,
// walks the sub-streams hanging off it in the stream graph, applies transforms
// and hands every selected record to the sink. A sync function returns one
// bookmark per selected stream in its tree, stamped with the extraction time
// captured when the call started.
package engine
