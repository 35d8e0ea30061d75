// Command jarules runs one task across several LLM agents in parallel, each
// on its own git branch, and answers queries about the results.
package main

func main() {
	Execute()
}
