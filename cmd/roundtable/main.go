// Command roundtable runs a multi-agent research team from the terminal or
// serves it over HTTP.
package main

func main() {
	Execute()
}
