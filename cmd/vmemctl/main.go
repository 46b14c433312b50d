// vmemctl inspects and exercises the vmem virtual-memory provider.
package main

func main() {
	execute()
}
