package vocab

const (
	lookupLabelQuery = `
		MATCH (c:Concept)
		WHERE c.canonical_label = $canonical OR $canonical IN c.canonical_synonyms
		RETURN c.concept_id AS concept_id, c.label AS label, c.synonyms AS synonyms,
		       c.definition AS definition, c.source_vocab AS source_vocab,
		       c.precedence_tier AS precedence_tier, c.usage_weight AS usage_weight
	`

	candidateLabelsQuery = `
		MATCH (c:Concept)
		WHERE any(tok IN $tokens WHERE c.canonical_label CONTAINS tok)
		RETURN c.concept_id AS concept_id, c.label AS label, c.synonyms AS synonyms,
		       c.definition AS definition, c.source_vocab AS source_vocab,
		       c.precedence_tier AS precedence_tier, c.usage_weight AS usage_weight
		LIMIT $limit
	`

	nearestConceptsQuery = `
		CALL vector_search.search("concept_definitions", $limit, $vector)
		YIELD node, similarity
		RETURN node.concept_id AS concept_id, node.label AS label,
		       node.source_vocab AS source_vocab, node.precedence_tier AS precedence_tier,
		       node.usage_weight AS usage_weight, similarity
	`

	getConceptQuery = `
		MATCH (c:Concept {concept_id: $concept_id})
		RETURN c.concept_id AS concept_id, c.label AS label, c.synonyms AS synonyms,
		       c.definition AS definition, c.source_vocab AS source_vocab,
		       c.precedence_tier AS precedence_tier, c.usage_weight AS usage_weight
	`

	equivalentsQuery = `
		MATCH (c:Concept {concept_id: $concept_id})-[:EQUIVALENT_TO]-(o:Concept)
		RETURN o.concept_id AS concept_id
	`
)
