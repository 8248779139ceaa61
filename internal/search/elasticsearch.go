// Package search indexes contact projections in Elasticsearch so
// wallets can be searched by contact name, email or phone without
// touching the projection tables.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/debitum/config"
	"example.com/debitum/internal/models"
)

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}
	return &ElasticClient{client: client, config: cfg}, nil
}

// IndexContact indexes one contact projection. Tombstoned contacts are
// removed from the index instead.
func (c *ElasticClient) IndexContact(ctx context.Context, contact *models.ContactProjection) error {
	indexName := config.FormatIndex(c.config, c.config.Index)

	if contact.IsDeleted {
		req := esapi.DeleteRequest{
			Index:      indexName,
			DocumentID: contact.ID.String(),
		}
		res, err := req.Do(ctx, c.client)
		if err != nil {
			return errors.Wrap(err, "failed to execute Elasticsearch delete request")
		}
		defer res.Body.Close()
		io.Copy(io.Discard, res.Body)
		return nil
	}

	doc := map[string]interface{}{
		"contact_id": contact.ID.String(),
		"wallet_id":  contact.WalletID.String(),
		"name":       contact.Name,
		"username":   contact.Username,
		"phone":      contact.Phone,
		"email":      contact.Email,
		"balance":    contact.Balance,
		"updated_at": contact.UpdatedAt,
	}
	docJson, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal contact document")
	}

	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: contact.ID.String(),
		Body:       bytes.NewReader(docJson),
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return errors.Errorf("Elasticsearch returned %s: %s", res.Status(), string(body))
	}

	log.Debug().
		Str("contactID", contact.ID.String()).
		Str("index", indexName).
		Msg("Indexed contact")
	return nil
}

// SearchContacts runs a match query over the wallet's contacts and
// returns matching contact ids.
func (c *ElasticClient) SearchContacts(ctx context.Context, walletID, query string) ([]string, error) {
	body := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": map[string]interface{}{
					"term": map[string]interface{}{"wallet_id": walletID},
				},
				"must": map[string]interface{}{
					"multi_match": map[string]interface{}{
						"query":  query,
						"fields": []string{"name", "username", "email", "phone"},
					},
				},
			},
		},
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	res, err := c.client.Search(
		c.client.Search.WithContext(ctx),
		c.client.Search.WithIndex(config.FormatIndex(c.config, c.config.Index)),
		c.client.Search.WithBody(bytes.NewReader(buf)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search")
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, errors.Errorf("Elasticsearch returned %s: %s", res.Status(), string(data))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID string `json:"_id"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "failed to decode search response")
	}

	ids := make([]string, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		ids = append(ids, h.ID)
	}
	return ids, nil
}
