package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/octobees/vcardsync/internal/dto"
	"github.com/octobees/vcardsync/internal/service"
)

// resolveQuery takes term and location from args and asks for whatever is missing.
func resolveQuery(in io.Reader, out io.Writer, args []string) (dto.SearchQuery, error) {
	var query dto.SearchQuery
	if len(args) > 0 {
		query.Term = args[0]
	}
	if len(args) > 1 {
		query.Location = args[1]
	}

	reader := bufio.NewReader(in)
	if strings.TrimSpace(query.Term) == "" {
		term, err := ask(reader, out, "Search term (e.g. metallbau): ")
		if err != nil {
			return dto.SearchQuery{}, err
		}
		query.Term = term
	}
	if len(args) < 2 {
		location, err := ask(reader, out, "Location or canton (e.g. AG, empty for all): ")
		if err != nil {
			return dto.SearchQuery{}, err
		}
		query.Location = location
	}

	query = query.Normalize()
	if !query.Valid() {
		return dto.SearchQuery{}, service.ErrEmptyQuery
	}
	return query, nil
}

func ask(reader *bufio.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
