// cmd/pdfinfo probes a local PDF without the server or queue
// infrastructure: page count by default, plus one page's text with -page.
//
// Usage:
//
//	./pdfinfo -input document.pdf
//	./pdfinfo -input document.pdf -page 3
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pageq/pageq/internal/pdf"
)

func main() {
	input := flag.String("input", "", "Input PDF path (required)")
	page := flag.Int("page", 0, "Extract and print this page's text")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "Error: -input flag is required")
		flag.Usage()
		os.Exit(1)
	}

	data, err := os.ReadFile(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: read %s: %v\n", *input, err)
		os.Exit(1)
	}

	doc, err := pdf.Open(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("file:  %s\n", *input)
	fmt.Printf("size:  %d bytes\n", len(data))
	fmt.Printf("pages: %d\n", doc.PageCount())

	if *page > 0 {
		text, err := doc.ExtractPage(*page)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\n--- page %d (%d chars) ---\n%s\n", *page, len(text), text)
	}
}
