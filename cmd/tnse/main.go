// Command tnse runs the Telegram news search engine: the collection
// scheduler, the enrichment pipeline, and the bot surface in one process.
package main

func main() {
	runServe()
}
