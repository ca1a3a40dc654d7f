package ai

// ExtractRelationsPrompt asks for the entities and relations in a document
// chunk. Format with the (truncated) chunk text.
const ExtractRelationsPrompt = `
# Task Context
You build a knowledge graph for a customer support knowledge base. You will be given one passage from a company document.

# Background Data
%s

# Detailed Task Description & Rules
- Identify the most important named entities: organizations, products, services, people, places, policies and concepts.
- Use the entity name exactly as it appears in the passage as its id. Do not invent entities that are not mentioned.
- Give every entity a short upper-case type such as ORGANIZATION, PRODUCT, PERSON, LOCATION, POLICY or CONCEPT.
- Identify directed relations between the entities you listed. Describe each relation with a short lower-case verb phrase, e.g. "partners with", "offers", "located in".
- Only use entity ids that appear in your nodes list as source or target.
- Prefer a few precise relations over many vague ones. At most 10 nodes and 10 edges.

# Output Formatting
Return a JSON object with this structure:
{
  "nodes": [{"id": "<entity name>", "type": "<TYPE>"}],
  "edges": [{"source": "<entity id>", "target": "<entity id>", "relation": "<verb phrase>"}]
}
Return {"nodes": [], "edges": []} if the passage mentions no entities.
`

// QueryEntitiesPrompt asks for the entity mentions in a user question.
const QueryEntitiesPrompt = `
# Task Context
You help a support assistant look up a knowledge graph. You will be given a customer question.

# Background Data
Question: "%s"

# Detailed Task Description & Rules
- List the names of organizations, products, services, people, places, policies or concepts the question refers to.
- Keep the wording from the question; do not expand abbreviations or add entities that are not mentioned.
- Return at most 5 entities. Return an empty list if the question names nothing specific.

# Output Formatting
Return a JSON object with this structure:
{
  "entities": ["<entity>", "<entity>"]
}
`

// AnswerSystemPrompt constrains the support agent to the supplied context.
const AnswerSystemPrompt = `You are a knowledgeable and friendly customer support agent.
Use the provided context to answer questions accurately and professionally.
If you're not sure about something, acknowledge it and offer to help with related information you do have.
Always maintain a helpful and courteous tone.`

// AnswerUserPrompt carries the fused context and the customer question.
const AnswerUserPrompt = `Using the context below, help the customer with their question. If you can't find a specific answer in the context, be honest and offer to help with related information.

Context:
%s

Customer Question:
%s`

// FollowUpSystemPrompt asks for short follow-up questions, one per line.
const FollowUpSystemPrompt = `Based on the previous answer, suggest 2-3 natural follow-up questions. Return only the questions, one per line.`

// FollowUpUserPrompt carries the previous answer.
const FollowUpUserPrompt = `Previous answer: %s`
